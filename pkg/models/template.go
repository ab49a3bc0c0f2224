package models

// Template is a reusable workflow blueprint.
type Template struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	FailurePolicy FailurePolicy  `json:"failure_policy,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Triggers      []*Trigger     `json:"triggers"`
	Actions       []*Action      `json:"actions"`
}
