// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/autoflow/pkg/actions/delay"
	"github.com/dukex/autoflow/pkg/actions/httprequest"
	logaction "github.com/dukex/autoflow/pkg/actions/log"
	"github.com/dukex/autoflow/pkg/actions/publish"
	"github.com/dukex/autoflow/pkg/actions/transform"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/registry"
)

func registerNativeActions(reg *registry.Registry, bus eventbus.EventBus) {
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(delay.NewActionFactory())

	if bus != nil {
		reg.RegisterAction(publish.NewActionFactory(bus))
	}
}

// NewRegistry returns an action registry with every built-in action type.
// The publish action is only available with an event bus.
func NewRegistry(log *slog.Logger, bus eventbus.EventBus) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg, bus)

	return reg
}
