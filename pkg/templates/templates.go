// Package templates provides the built-in workflow blueprints.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/schedule"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtin []byte

// ErrTemplateNotFound is returned for an unknown template id.
var ErrTemplateNotFound = errors.New("template not found")

// catalogFile is the structure of templates.yaml.
type catalogFile struct {
	Templates []templateFile `yaml:"templates"`
}

type templateFile struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Category      string         `yaml:"category"`
	FailurePolicy string         `yaml:"failure_policy"`
	Variables     map[string]any `yaml:"variables"`
	Triggers      []triggerFile  `yaml:"triggers"`
	Actions       []actionFile   `yaml:"actions"`
}

type triggerFile struct {
	Name      string               `yaml:"name"`
	Kind      string               `yaml:"kind"`
	Schedule  string               `yaml:"schedule"`
	Source    string               `yaml:"source"`
	EventType string               `yaml:"event_type"`
	Condition *condition.Condition `yaml:"condition"`
	Schema    map[string]any       `yaml:"schema"`
}

type actionFile struct {
	ID               string               `yaml:"id"`
	Name             string               `yaml:"name"`
	Type             string               `yaml:"type"`
	Order            int                  `yaml:"order"`
	Config           map[string]any       `yaml:"config"`
	ConditionEnabled bool                 `yaml:"condition_enabled"`
	Condition        *condition.Condition `yaml:"condition"`
	TimeoutSeconds   int                  `yaml:"timeout_seconds"`
	MaxAttempts      int                  `yaml:"max_attempts"`
}

// Catalog is an immutable, ordered set of templates.
type Catalog struct {
	templates []*models.Template
}

// Builtin parses the embedded catalog.
func Builtin() (*Catalog, error) {
	return Load(builtin)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	catalog := &Catalog{templates: make([]*models.Template, 0, len(file.Templates))}
	seen := make(map[string]struct{}, len(file.Templates))

	for i, tf := range file.Templates {
		if err := tf.validate(); err != nil {
			return nil, fmt.Errorf("templates[%d]: %w", i, err)
		}

		if _, dup := seen[tf.ID]; dup {
			return nil, fmt.Errorf("templates[%d]: duplicate id '%s'", i, tf.ID)
		}

		seen[tf.ID] = struct{}{}

		catalog.templates = append(catalog.templates, tf.model())
	}

	return catalog, nil
}

func (tf templateFile) validate() error {
	if tf.ID == "" {
		return errors.New("id is required")
	}

	if tf.Name == "" {
		return fmt.Errorf("%s: name is required", tf.ID)
	}

	if len(tf.Actions) == 0 {
		return fmt.Errorf("%s: at least one action is required", tf.ID)
	}

	orders := make(map[int]struct{}, len(tf.Actions))

	for j, action := range tf.Actions {
		if action.Type == "" {
			return fmt.Errorf("%s: actions[%d]: type is required", tf.ID, j)
		}

		if _, dup := orders[action.Order]; dup {
			return fmt.Errorf("%s: actions[%d]: duplicate order %d", tf.ID, j, action.Order)
		}

		orders[action.Order] = struct{}{}
	}

	for j, trigger := range tf.Triggers {
		if !models.TriggerKind(trigger.Kind).Valid() {
			return fmt.Errorf("%s: triggers[%d]: unknown kind '%s'", tf.ID, j, trigger.Kind)
		}

		if trigger.Kind == string(models.TriggerKindSchedule) {
			if err := schedule.Validate(trigger.Schedule); err != nil {
				return fmt.Errorf("%s: triggers[%d]: %w", tf.ID, j, err)
			}
		}
	}

	return nil
}

func (tf templateFile) model() *models.Template {
	template := &models.Template{
		ID:            tf.ID,
		Name:          tf.Name,
		Description:   tf.Description,
		Category:      tf.Category,
		FailurePolicy: models.FailurePolicy(tf.FailurePolicy),
		Variables:     tf.Variables,
		Triggers:      make([]*models.Trigger, 0, len(tf.Triggers)),
		Actions:       make([]*models.Action, 0, len(tf.Actions)),
	}

	for _, trigger := range tf.Triggers {
		template.Triggers = append(template.Triggers, &models.Trigger{
			Name:      trigger.Name,
			Kind:      models.TriggerKind(trigger.Kind),
			Schedule:  trigger.Schedule,
			Source:    trigger.Source,
			EventType: trigger.EventType,
			Condition: trigger.Condition,
			Schema:    trigger.Schema,
			IsActive:  true,
		})
	}

	for _, action := range tf.Actions {
		template.Actions = append(template.Actions, &models.Action{
			ID:               action.ID,
			Name:             action.Name,
			Type:             action.Type,
			Order:            action.Order,
			Config:           action.Config,
			ConditionEnabled: action.ConditionEnabled,
			Condition:        action.Condition,
			TimeoutSeconds:   action.TimeoutSeconds,
			MaxAttempts:      action.MaxAttempts,
		})
	}

	return template
}

// List returns the templates, filtered by category when one is given.
func (c *Catalog) List(category string) []*models.Template {
	out := make([]*models.Template, 0, len(c.templates))

	for _, template := range c.templates {
		if category == "" || strings.EqualFold(template.Category, category) {
			out = append(out, template)
		}
	}

	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	var categories []string

	for _, template := range c.templates {
		if template.Category != "" && !slices.Contains(categories, template.Category) {
			categories = append(categories, template.Category)
		}
	}

	slices.Sort(categories)

	return categories
}

// Get returns one template.
func (c *Catalog) Get(id string) (*models.Template, error) {
	for _, template := range c.templates {
		if template.ID == id {
			return template, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// Instantiate clones a template into a draft workflow. Workflow, trigger and
// action ids come from newID; action ids named by the template are kept so
// templated references like .actions.fetch keep resolving.
func Instantiate(template *models.Template, name string, newID func() string, now time.Time) *models.Workflow {
	if name == "" {
		name = template.Name
	}

	workflowID := newID()

	workflow := &models.Workflow{
		ID:            workflowID,
		Name:          name,
		Description:   template.Description,
		Category:      template.Category,
		Status:        models.WorkflowStatusDraft,
		FailurePolicy: template.FailurePolicy,
		Variables:     cloneMap(template.Variables),
		TemplateID:    template.ID,
		Triggers:      make([]*models.Trigger, 0, len(template.Triggers)),
		Actions:       make([]*models.Action, 0, len(template.Actions)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, trigger := range template.Triggers {
		clone := *trigger
		clone.ID = newID()
		clone.WorkflowID = workflowID
		clone.Schema = cloneMap(trigger.Schema)
		clone.NextFireAt = nil
		clone.LastFiredAt = nil
		workflow.Triggers = append(workflow.Triggers, &clone)
	}

	for _, action := range template.Actions {
		clone := *action
		if clone.ID == "" {
			clone.ID = newID()
		}

		clone.WorkflowID = workflowID
		clone.Config = cloneMap(action.Config)
		workflow.Actions = append(workflow.Actions, &clone)
	}

	return workflow
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))

	for key, value := range in {
		if nested, ok := value.(map[string]any); ok {
			value = cloneMap(nested)
		}

		out[key] = value
	}

	return out
}
