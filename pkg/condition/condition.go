// Package condition matches data payloads against field/operator/value predicates.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is a comparison understood by Evaluate.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

var (
	ErrFieldRequired   = errors.New("condition field is required")
	ErrUnknownOperator = errors.New("unknown condition operator")
)

var operatorAliases = map[string]Operator{
	"equals":       OperatorEquals,
	"eq":           OperatorEquals,
	"=":            OperatorEquals,
	"==":           OperatorEquals,
	"not_equals":   OperatorNotEquals,
	"neq":          OperatorNotEquals,
	"ne":           OperatorNotEquals,
	"!=":           OperatorNotEquals,
	"greater_than": OperatorGreaterThan,
	"gt":           OperatorGreaterThan,
	">":            OperatorGreaterThan,
	"less_than":    OperatorLessThan,
	"lt":           OperatorLessThan,
	"<":            OperatorLessThan,
	"contains":     OperatorContains,
}

// Operators lists the canonical operator names.
func Operators() []Operator {
	return []Operator{OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorLessThan, OperatorContains}
}

// NormalizeOperator maps aliases such as ">" or "eq" to their canonical name.
func NormalizeOperator(op string) (Operator, error) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}

	return canonical, nil
}

// Condition is a single predicate over a dotted field path.
type Condition struct {
	Field    string   `json:"field"    yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value"    yaml:"value"`
}

// Validate checks the condition at definition time.
func Validate(cond Condition) error {
	if strings.TrimSpace(cond.Field) == "" {
		return ErrFieldRequired
	}

	_, err := NormalizeOperator(string(cond.Operator))

	return err
}

// Evaluate reports whether payload satisfies cond. Missing fields and
// malformed conditions never match; Evaluate never fails.
func Evaluate(cond Condition, payload map[string]any) bool {
	op, err := NormalizeOperator(string(cond.Operator))
	if err != nil {
		return false
	}

	actual, ok := Lookup(payload, cond.Field)
	if !ok {
		return false
	}

	switch op {
	case OperatorEquals:
		return equal(actual, cond.Value)
	case OperatorNotEquals:
		return !equal(actual, cond.Value)
	case OperatorGreaterThan:
		cmp, ok := compare(actual, cond.Value)

		return ok && cmp > 0
	case OperatorLessThan:
		cmp, ok := compare(actual, cond.Value)

		return ok && cmp < 0
	case OperatorContains:
		return contains(actual, cond.Value)
	default:
		return false
	}
}

// Lookup resolves a dotted path against the flattened payload.
func Lookup(payload map[string]any, field string) (any, bool) {
	if payload == nil {
		return nil, false
	}

	value, ok := Flatten(payload)[strings.TrimSpace(field)]

	return value, ok
}

func equal(actual, expected any) bool {
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			return a == b
		}
	}

	if a, ok := actual.(bool); ok {
		if b, ok := toBool(expected); ok {
			return a == b
		}
	}

	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if isComposite(actual) || isComposite(expected) {
		return reflect.DeepEqual(normalize(actual), normalize(expected))
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func compare(actual, expected any) (int, bool) {
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			switch {
			case a > b:
				return 1, true
			case a < b:
				return -1, true
			default:
				return 0, true
			}
		}

		return 0, false
	}

	a, aok := actual.(string)
	b, bok := expected.(string)

	if !aok || !bok {
		return 0, false
	}

	return strings.Compare(a, b), true
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return expected != nil && strings.Contains(v, fmt.Sprint(expected))
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}

		_, exists := v[key]

		return exists
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)

		return b, err == nil
	default:
		return false, false
	}
}

func isComposite(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func normalize(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}

	return out
}
