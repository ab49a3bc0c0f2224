package triggers

import (
	"errors"
	"fmt"
)

// ErrTriggerEvaluation is matched by every TriggerEvaluationError.
var ErrTriggerEvaluation = errors.New("trigger evaluation failed")

// TriggerEvaluationError reports that a valid schedule could not produce its next fire time.
type TriggerEvaluationError struct {
	WorkflowID string
	TriggerID  string
	Schedule   string
	Err        error
}

func (e *TriggerEvaluationError) Error() string {
	return fmt.Sprintf("evaluating trigger %s of workflow %s (%q): %v", e.TriggerID, e.WorkflowID, e.Schedule, e.Err)
}

func (e *TriggerEvaluationError) Unwrap() error {
	return e.Err
}

func (e *TriggerEvaluationError) Is(target error) bool {
	return target == ErrTriggerEvaluation
}

// IsTriggerEvaluation checks if an error came from next-fire-time evaluation.
func IsTriggerEvaluation(err error) bool {
	return errors.Is(err, ErrTriggerEvaluation)
}
