// Package main provides the autoflow server and its maintenance commands.
package main

import (
	"context"
	"os"

	"github.com/dukex/autoflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func NewApp() *cli.Command {
	return &cli.Command{
		Name:                  "autoflow",
		Usage:                 "Schedule and run automation workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewValidateScheduleCommand(),
			NewMigrateCommand(),
		},
	}
}

func main() {
	logger := log.WithModule("autoflow")

	if err := NewApp().Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
