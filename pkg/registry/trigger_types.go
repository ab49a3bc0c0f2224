package registry

import "github.com/dukex/autoflow/pkg/models"

// TriggerType describes a trigger kind for capability discovery.
type TriggerType struct {
	Kind           models.TriggerKind `json:"kind"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	RequiredFields []string           `json:"required_fields"`
	OptionalFields []string           `json:"optional_fields,omitempty"`
}

// TriggerTypes lists the trigger kinds workflows can declare.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		{
			Kind:           models.TriggerKindSchedule,
			Name:           "Schedule",
			Description:    "Fires on a cron expression, an @every interval or a named frequency such as 'daily 09:00'.",
			RequiredFields: []string{"schedule"},
		},
		{
			Kind:           models.TriggerKindEvent,
			Name:           "Event",
			Description:    "Fires when an event with the given source and type is published.",
			RequiredFields: []string{"source", "event_type"},
			OptionalFields: []string{"schema"},
		},
		{
			Kind:           models.TriggerKindWebhook,
			Name:           "Webhook",
			Description:    "Fires when POST /webhooks/{source}/{event_type} is called.",
			RequiredFields: []string{"source", "event_type"},
			OptionalFields: []string{"schema"},
		},
		{
			Kind:        models.TriggerKindManual,
			Name:        "Manual",
			Description: "Fires only through the execute endpoint.",
		},
		{
			Kind:           models.TriggerKindCondition,
			Name:           "Condition",
			Description:    "Fires when an inbound event payload matches field/operator/value.",
			RequiredFields: []string{"condition.field", "condition.operator", "condition.value"},
			OptionalFields: []string{"source", "event_type", "schema"},
		},
	}
}
