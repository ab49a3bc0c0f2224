package services

import (
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/registry"
)

// Catalog answers capability discovery for workflow editors.
type Catalog struct {
	deps
}

func NewCatalog(opts ...Option) *Catalog {
	return &Catalog{deps: newDeps(nil, opts)}
}

// ActionTypes lists the registered action types.
func (c *Catalog) ActionTypes() []registry.ActionType {
	if c.actions == nil {
		return []registry.ActionType{}
	}

	return c.actions.ActionTypes()
}

// TriggerTypes lists the supported trigger kinds.
func (c *Catalog) TriggerTypes() []registry.TriggerType {
	return registry.TriggerTypes()
}

// Templates lists workflow blueprints, optionally filtered by category.
func (c *Catalog) Templates(category string) ([]*models.Template, error) {
	if c.catalog == nil {
		return nil, ErrCatalogUnavailable
	}

	return c.catalog.List(category), nil
}

// Template returns one blueprint.
func (c *Catalog) Template(id string) (*models.Template, error) {
	if c.catalog == nil {
		return nil, ErrCatalogUnavailable
	}

	return c.catalog.Get(id)
}
