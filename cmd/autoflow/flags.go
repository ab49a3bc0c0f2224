package main

import (
	"time"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/urfave/cli/v3"
)

const defaultPort = 9091

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "Database connection URL (file://<dir> or postgres://...)",
		Value:   "file://./data",
		Sources: cli.EnvVars("DATABASE_URL"),
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func serveFlags() []cli.Flag {
	retry := engine.DefaultRetryPolicy()

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		databaseFlag(),
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the distributed scheduler lock; empty uses an in-process lock",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "tick-interval",
			Usage:   "Longest time the scheduler sleeps between evaluations",
			Value:   scheduler.DefaultTickInterval,
			Sources: cli.EnvVars("SCHEDULER_TICK_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "location",
			Usage:   "Time zone schedule expressions are evaluated in",
			Value:   "UTC",
			Sources: cli.EnvVars("SCHEDULER_LOCATION"),
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "Default per-attempt action timeout",
			Value:   engine.DefaultActionTimeout,
			Sources: cli.EnvVars("ACTION_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "retry-max-attempts",
			Usage:   "Attempts per retryable action",
			Value:   retry.MaxAttempts,
			Sources: cli.EnvVars("RETRY_MAX_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "retry-base-delay",
			Usage:   "First retry backoff",
			Value:   retry.BaseDelay,
			Sources: cli.EnvVars("RETRY_BASE_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "retry-max-delay",
			Usage:   "Backoff cap",
			Value:   retry.MaxDelay,
			Sources: cli.EnvVars("RETRY_MAX_DELAY"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent-executions",
			Usage:   "Executions running at once across all workflows",
			Value:   engine.DefaultMaxConcurrent,
			Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
		},
		&cli.DurationFlag{
			Name:    "heartbeat-interval",
			Usage:   "How often a running execution stamps its liveness",
			Value:   engine.DefaultHeartbeatInterval,
			Sources: cli.EnvVars("HEARTBEAT_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "stale-after",
			Usage:   "Silence after which another instance may finalise an execution",
			Value:   engine.DefaultStaleAfter,
			Sources: cli.EnvVars("STALE_AFTER"),
		},
		&cli.DurationFlag{
			Name:    "execute-wait-timeout",
			Usage:   "How long a synchronous manual execution may block",
			Value:   services.DefaultExecuteWaitTimeout,
			Sources: cli.EnvVars("EXECUTE_WAIT_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_TRACING_ENABLED"),
		},
	}

	return append(flags, logFlags()...)
}

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	Port               int
	DatabaseURL        string
	EventBus           string
	RedisURL           string
	TickInterval       time.Duration
	Location           *time.Location
	Engine             engine.Config
	ExecuteWaitTimeout time.Duration
	Tracing            bool
}

func loadServeConfig(command *cli.Command) (serveConfig, error) {
	location, err := time.LoadLocation(command.String("location"))
	if err != nil {
		return serveConfig{}, err
	}

	return serveConfig{
		Port:         command.Int("port"),
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		RedisURL:     command.String("redis-url"),
		TickInterval: command.Duration("tick-interval"),
		Location:     location,
		Engine: engine.Config{
			ActionTimeout: command.Duration("action-timeout"),
			Retry: engine.RetryPolicy{
				MaxAttempts: command.Int("retry-max-attempts"),
				BaseDelay:   command.Duration("retry-base-delay"),
				MaxDelay:    command.Duration("retry-max-delay"),
			},
			MaxConcurrent:     command.Int("max-concurrent-executions"),
			HeartbeatInterval: command.Duration("heartbeat-interval"),
			StaleAfter:        command.Duration("stale-after"),
		},
		ExecuteWaitTimeout: command.Duration("execute-wait-timeout"),
		Tracing:            command.Bool("tracing"),
	}, nil
}
