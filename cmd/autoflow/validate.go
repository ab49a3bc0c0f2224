package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/urfave/cli/v3"
)

// ErrScheduleRequired is returned when validate-schedule gets no expression.
var ErrScheduleRequired = errors.New("a schedule expression is required")

func NewValidateScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-schedule",
		Aliases:   []string{"v"},
		Usage:     "Validate a schedule expression and print its next fire times",
		ArgsUsage: "<expression>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of fire times to print",
				Value:   5,
			},
			&cli.StringFlag{
				Name:    "location",
				Usage:   "Time zone the expression is evaluated in",
				Value:   "UTC",
				Sources: cli.EnvVars("SCHEDULER_LOCATION"),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			expr := command.Args().First()
			if expr == "" {
				return ErrScheduleRequired
			}

			location, err := time.LoadLocation(command.String("location"))
			if err != nil {
				return err
			}

			times, err := nextFireTimes(schedule.NewEvaluator(location), expr, time.Now(), command.Int("count"))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "%q is valid\n", expr)

			for _, at := range times {
				_, _ = fmt.Fprintln(command.Root().Writer, at.In(location).Format(time.RFC3339))
			}

			return nil
		},
	}
}

// nextFireTimes returns up to count fire instants after from. A disabled
// expression is valid and yields none.
func nextFireTimes(evaluator *schedule.Evaluator, expr string, from time.Time, count int) ([]time.Time, error) {
	if err := evaluator.Validate(expr); err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, count)

	for range count {
		next, err := evaluator.NextFireTime(expr, from)
		if errors.Is(err, schedule.ErrScheduleDisabled) || errors.Is(err, schedule.ErrNoFutureFireTime) {
			break
		}

		if err != nil {
			return nil, err
		}

		times = append(times, next)
		from = next
	}

	return times, nil
}
