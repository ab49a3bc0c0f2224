package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// effectFactory adapts a function into an action type.
type effectFactory struct {
	id        string
	retryable bool
	fn        func(ctx context.Context, run models.RunContext) (map[string]any, error)
}

func (f *effectFactory) ID() string { return f.id }
func (f *effectFactory) Name() string { return f.id }
func (f *effectFactory) Description() string { return "test effect " + f.id }
func (f *effectFactory) Retryable() bool { return f.retryable }
func (f *effectFactory) Schema() map[string]any { return nil }
func (f *effectFactory) Create(context.Context, map[string]any) (protocol.Action, error) {
	return f, nil
}

func (f *effectFactory) Execute(ctx context.Context, run models.RunContext, _ *slog.Logger) (map[string]any, error) {
	return f.fn(ctx, run)
}

// gate blocks every invocation until released and reports each start.
type gate struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gate) waitStarted(t *testing.T) string {
	t.Helper()

	select {
	case id := <-g.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("gate action never started")

		return ""
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event.GetType())

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.EventType(nil), p.events...)
}

type fixture struct {
	engine    *engine.Engine
	registry  *registry.Registry
	store     persistence.Persistence
	gate      *gate
	flaky     *atomic.Int32
	publisher *recordingPublisher
}

func newFixture(t *testing.T, config engine.Config) *fixture {
	t.Helper()

	f := &fixture{
		store:     file.NewPersistence(t.TempDir()),
		gate:      newGate(),
		flaky:     &atomic.Int32{},
		publisher: &recordingPublisher{},
	}

	reg := registry.NewRegistry(discardLogger())
	reg.RegisterAction(&effectFactory{id: "echo", retryable: true, fn: func(_ context.Context, run models.RunContext) (map[string]any, error) {
		return map[string]any{"value": run.Trigger.Payload["value"], "attempt": run.Attempt}, nil
	}})
	reg.RegisterAction(&effectFactory{id: "fail", retryable: true, fn: func(context.Context, models.RunContext) (map[string]any, error) {
		return nil, errBoom
	}})
	reg.RegisterAction(&effectFactory{id: "fail_nonretryable", retryable: false, fn: func(context.Context, models.RunContext) (map[string]any, error) {
		return nil, errBoom
	}})
	reg.RegisterAction(&effectFactory{id: "permanent", retryable: true, fn: func(context.Context, models.RunContext) (map[string]any, error) {
		return nil, actions.Permanent(errBoom)
	}})
	reg.RegisterAction(&effectFactory{id: "flaky", retryable: true, fn: func(context.Context, models.RunContext) (map[string]any, error) {
		if f.flaky.Add(1) < 3 {
			return nil, errBoom
		}

		return map[string]any{"ok": true}, nil
	}})
	reg.RegisterAction(&effectFactory{id: "gate", retryable: false, fn: func(ctx context.Context, run models.RunContext) (map[string]any, error) {
		f.gate.started <- run.ExecutionID

		select {
		case <-f.gate.release:
			return map[string]any{"released": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})
	reg.RegisterAction(&effectFactory{id: "hang", retryable: false, fn: func(ctx context.Context, _ models.RunContext) (map[string]any, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}})

	f.registry = reg
	f.engine = engine.New(discardLogger(), reg, f.store, nil, config, engine.WithPublisher(f.publisher))

	t.Cleanup(func() {
		f.gate.open()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = f.engine.Shutdown(ctx)
	})

	return f
}

// peer builds a second engine over the fixture's store, standing in for
// another instance of the service.
func (f *fixture) peer(t *testing.T, config engine.Config) *engine.Engine {
	t.Helper()

	peer := engine.New(discardLogger(), f.registry, f.store, nil, config, engine.WithOwner("peer"))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = peer.Shutdown(ctx)
	})

	return peer
}

func fastConfig() engine.Config {
	return engine.Config{
		ActionTimeout: 5 * time.Second,
		Retry:         engine.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		MaxConcurrent: 8,
	}
}

// saveWorkflow stores an active workflow whose actions have the given types, in order.
func (f *fixture) saveWorkflow(t *testing.T, id string, policy models.FailurePolicy, types ...string) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:            id,
		Name:          "workflow " + id,
		Status:        models.WorkflowStatusActive,
		FailurePolicy: policy,
	}

	for i, actionType := range types {
		workflow.Actions = append(workflow.Actions, &models.Action{
			ID:    actionID(i + 1),
			Type:  actionType,
			Order: i + 1,
		})
	}

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

func actionID(n int) string {
	return "a" + string(rune('0'+n))
}

func statuses(execution *models.Execution) []models.ActionResultStatus {
	out := make([]models.ActionResultStatus, 0, len(execution.ActionResults))
	for _, result := range execution.ActionResults {
		out = append(out, result.Status)
	}

	return out
}

func manual(input map[string]any) models.TriggerContext {
	return models.ManualTrigger(input, time.Time{})
}
