package main

import (
	"context"
	"fmt"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/urfave/cli/v3"
)

func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply PostgreSQL schema migrations and exit",
		Flags: append([]cli.Flag{databaseFlag()}, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("migrate")

			db, err := postgresql.Open(ctx, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}

			defer func() {
				if err := db.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close database", "error", err)
				}
			}()

			if err := postgresql.Migrate(ctx, logger, db); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Migrations applied")

			return nil
		},
	}
}
