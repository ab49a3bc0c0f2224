// Package template provides templating functionality for dynamic action configuration.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"json": func(v any) (string, error) {
		raw, err := json.Marshal(v)

		return string(raw), err
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
}

// ContextData builds the template data for a run: the run context plus env.
func ContextData(run models.RunContext) map[string]any {
	data := run.Data()
	data["vars"] = run.Variables
	data["env"] = getEnvVars()

	return data
}

// RenderWithContext renders input against a run context and decodes the result.
func RenderWithContext(input string, run models.RunContext) (any, error) {
	return Render(input, ContextData(run))
}

// RenderStringWithContext renders input against a run context without decoding.
func RenderStringWithContext(input string, run models.RunContext) (string, error) {
	return RenderString(input, ContextData(run))
}

// Parse checks that templateStr is a valid template.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.New("action").Option("missingkey=zero").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderString executes templateStr and returns the raw text.
func RenderString(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes templateStr and decodes JSON, numbers and booleans from the output.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok {
			envMap[key] = value
		}
	}

	return envMap
}
