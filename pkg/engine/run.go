package engine

import (
	"sync"
	"sync/atomic"

	"github.com/dukex/autoflow/pkg/models"
)

// Run is the handle of an execution owned by this engine.
type Run struct {
	ExecutionID string
	WorkflowID  string

	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once

	// lost is set once another instance finalised the stored record.
	lost atomic.Bool

	mu        sync.Mutex
	execution *models.Execution
}

func newRun(execution *models.Execution) *Run {
	return &Run{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		done:        make(chan struct{}),
		cancel:      make(chan struct{}),
		execution:   execution.Clone(),
	}
}

// Done is closed once the execution reached a terminal status and was stored.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Execution returns a snapshot of the latest state.
func (r *Run) Execution() *models.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execution.Clone()
}

func (r *Run) snapshot(execution *models.Execution) {
	clone := execution.Clone()

	r.mu.Lock()
	r.execution = clone
	r.mu.Unlock()
}

func (r *Run) requestCancel() {
	r.cancelOnce.Do(func() {
		close(r.cancel)
	})
}

func (r *Run) cancelRequested() bool {
	select {
	case <-r.cancel:
		return true
	default:
		return false
	}
}
