package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/router"
	"github.com/dukex/autoflow/pkg/schedule"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/stats"
	"github.com/dukex/autoflow/pkg/templates"
	"github.com/dukex/autoflow/pkg/triggers"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API, the scheduler and the execution engine",
		Flags:   serveFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			config, err := loadServeConfig(command)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, config)
		},
	}
}

//nolint:funlen // wiring of every component lives in one place
func serve(ctx context.Context, config serveConfig) error {
	logger := log.WithModule("autoflow")
	logger.InfoContext(ctx, "Initializing autoflow")

	tracer, shutdownTracer, err := otelhelper.Setup(ctx, "autoflow", config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(config.EventBus, log.WithModule("eventbus"))
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, log.WithModule("persistence"), config.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	clk := clock.System{}

	locker, closeLocker, err := cmd.NewLocker(ctx, config.RedisURL, clk)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeLocker(); err != nil {
			logger.Error("Failed to close locker", "error", err)
		}
	}()

	catalog, err := templates.Builtin()
	if err != nil {
		return err
	}

	m := metrics.New()
	actions := cmd.NewRegistry(log.WithModule("registry"), bus)
	evaluator := schedule.NewEvaluator(config.Location)

	eng := engine.New(log.WithModule("engine"), actions, store, clk, config.Engine,
		engine.WithTracer(tracer),
		engine.WithMetrics(m),
		engine.WithPublisher(bus),
	)

	recovered, err := eng.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover executions: %w", err)
	}

	if recovered > 0 {
		logger.WarnContext(ctx, "Marked interrupted executions", "count", recovered)
	}

	registry := triggers.NewRegistry(log.WithModule("triggers"), evaluator, clk)

	sched := scheduler.New(log.WithModule("scheduler"), registry, evaluator, store, eng, locker, clk,
		scheduler.Config{TickInterval: config.TickInterval, LockTTL: scheduler.DefaultLockTTL},
		scheduler.WithMetrics(m),
		scheduler.WithPublisher(bus),
	)

	if err := sched.Load(ctx); err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	eventRouter := router.New(log.WithModule("router"), registry, eng, clk)

	if err := bus.Handle(events.InboundEvent, eventRouter.HandleInbound); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to inbound events: %w", err)
	}

	opts := []services.Option{
		services.WithRegistry(actions),
		services.WithEvaluator(evaluator),
		services.WithScheduler(sched),
		services.WithCatalog(catalog),
		services.WithClock(clk),
		services.WithLogger(log.WithModule("services")),
	}

	api := NewAPI(log.WithModule("api"), web.Services{
		Workflows:  services.NewWorkflow(store, opts...),
		Executions: services.NewExecution(store, eng, config.ExecuteWaitTimeout, opts...),
		Tasks:      services.NewScheduledTask(store, opts...),
		Catalog:    services.NewCatalog(opts...),
		Stats:      stats.New(store, clk),
		Router:     eventRouter,
	}, actions, m)

	app := api.App()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sched.Run(groupCtx)
	})

	group.Go(func() error {
		return eng.RecoverLoop(groupCtx)
	})

	group.Go(func() error {
		return api.Start(app, config.Port)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(app.ShutdownWithContext(shutdownCtx), eng.Shutdown(shutdownCtx))
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
