// Package triggers indexes the triggers of active workflows: schedule triggers
// in a due-queue keyed by fire instant, inbound triggers by (source, type).
package triggers

import (
	"container/heap"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/clock"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/schedule"
)

// Subscription binds an inbound trigger to its workflow.
type Subscription struct {
	WorkflowID string
	Trigger    models.Trigger
}

// Registry holds the trigger definitions of active workflows. The due-queue
// and the event index are guarded by separate locks so the scheduler popping
// due entries never blocks event routing.
type Registry struct {
	logger    *slog.Logger
	evaluator *schedule.Evaluator
	clock     clock.Clock

	queueMu     sync.Mutex
	queue       dueQueue
	entries     map[string]*Entry
	generations map[string]uint64

	indexMu sync.RWMutex
	index   map[string][]Subscription
	keys    map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, evaluator *schedule.Evaluator, clk clock.Clock) *Registry {
	if evaluator == nil {
		evaluator = schedule.NewEvaluator(time.UTC)
	}

	return &Registry{
		logger:      logger.With("module", "trigger_registry"),
		evaluator:   evaluator,
		clock:       clk,
		entries:     make(map[string]*Entry),
		generations: make(map[string]uint64),
		index:       make(map[string][]Subscription),
		keys:        make(map[string][]string),
	}
}

// Load registers every workflow. Triggers that cannot be scheduled are left
// out and reported in the joined error.
func (r *Registry) Load(workflows []*models.Workflow) error {
	var errs []error

	for _, workflow := range workflows {
		if err := r.Sync(workflow); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Sync replaces every entry of workflow. Inactive workflows are removed.
// Schedule triggers whose next fire time cannot be computed are skipped and
// returned as TriggerEvaluationErrors.
func (r *Registry) Sync(workflow *models.Workflow) error {
	if !workflow.IsActive() {
		r.Remove(workflow.ID)

		return nil
	}

	now := r.clock.Now()

	var (
		scheduled     []*Entry
		subscriptions = make(map[string][]Subscription)
		errs          []error
	)

	for _, trigger := range workflow.Triggers {
		if !trigger.IsActive {
			continue
		}

		switch {
		case trigger.Kind == models.TriggerKindSchedule:
			if schedule.IsDisabled(trigger.Schedule) {
				continue
			}

			fireAt, err := r.firstFireAt(trigger, now)
			if err != nil {
				errs = append(errs, &TriggerEvaluationError{
					WorkflowID: workflow.ID,
					TriggerID:  trigger.ID,
					Schedule:   trigger.Schedule,
					Err:        err,
				})

				continue
			}

			scheduled = append(scheduled, &Entry{
				WorkflowID: workflow.ID,
				TriggerID:  trigger.ID,
				Schedule:   trigger.Schedule,
				FireAt:     fireAt,
			})
		case trigger.IsInbound():
			key := trigger.EventKey()
			subscriptions[key] = append(subscriptions[key], Subscription{
				WorkflowID: workflow.ID,
				Trigger:    *trigger,
			})
		}
	}

	r.replaceScheduled(workflow.ID, scheduled)
	r.replaceSubscriptions(workflow.ID, subscriptions)

	r.logger.Debug("Synced workflow triggers",
		"workflow_id", workflow.ID,
		"scheduled", len(scheduled),
		"subscriptions", len(subscriptions))

	return errors.Join(errs...)
}

// firstFireAt keeps a persisted future fire time across restarts; a fire
// time already in the past is not caught up.
func (r *Registry) firstFireAt(trigger *models.Trigger, now time.Time) (time.Time, error) {
	if err := r.evaluator.Validate(trigger.Schedule); err != nil {
		return time.Time{}, err
	}

	if trigger.NextFireAt != nil && trigger.NextFireAt.After(now) {
		return *trigger.NextFireAt, nil
	}

	return r.evaluator.NextFireTime(trigger.Schedule, now)
}

// Remove drops every entry of a workflow.
func (r *Registry) Remove(workflowID string) {
	r.replaceScheduled(workflowID, nil)
	r.replaceSubscriptions(workflowID, nil)
}

// Deactivate drops a single trigger from the queue and the event index.
func (r *Registry) Deactivate(triggerID string) {
	r.queueMu.Lock()
	if entry, ok := r.entries[triggerID]; ok {
		if entry.index >= 0 {
			heap.Remove(&r.queue, entry.index)
		}

		delete(r.entries, triggerID)
	}
	r.queueMu.Unlock()

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	for key, subs := range r.index {
		kept := subs[:0]

		for _, sub := range subs {
			if sub.Trigger.ID != triggerID {
				kept = append(kept, sub)
			}
		}

		if len(kept) == 0 {
			delete(r.index, key)
		} else {
			r.index[key] = kept
		}
	}
}

func (r *Registry) replaceScheduled(workflowID string, entries []*Entry) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	r.generations[workflowID]++
	generation := r.generations[workflowID]

	for id, entry := range r.entries {
		if entry.WorkflowID != workflowID {
			continue
		}

		if entry.index >= 0 {
			heap.Remove(&r.queue, entry.index)
		}

		delete(r.entries, id)
	}

	for _, entry := range entries {
		entry.generation = generation
		r.entries[entry.TriggerID] = entry
		heap.Push(&r.queue, entry)
	}
}

func (r *Registry) replaceSubscriptions(workflowID string, subscriptions map[string][]Subscription) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	for _, key := range r.keys[workflowID] {
		subs := r.index[key]
		kept := subs[:0]

		for _, sub := range subs {
			if sub.WorkflowID != workflowID {
				kept = append(kept, sub)
			}
		}

		if len(kept) == 0 {
			delete(r.index, key)
		} else {
			r.index[key] = kept
		}
	}

	delete(r.keys, workflowID)

	for key, subs := range subscriptions {
		r.index[key] = append(r.index[key], subs...)
		r.keys[workflowID] = append(r.keys[workflowID], key)
	}
}

// Due pops every entry whose fire time is at or before now. Popped entries
// stay out of the queue until Reschedule puts them back.
func (r *Registry) Due(now time.Time) []Entry {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	var due []Entry

	for r.queue.Len() > 0 && !r.queue[0].FireAt.After(now) {
		entry, _ := heap.Pop(&r.queue).(*Entry)
		delete(r.entries, entry.TriggerID)
		due = append(due, *entry)
	}

	return due
}

// Reschedule computes the next fire time strictly after after and re-inserts
// the entry. Entries whose workflow was re-synced or removed since Due are
// dropped silently. It returns the new fire time.
func (r *Registry) Reschedule(entry Entry, after time.Time) (time.Time, error) {
	next, err := r.evaluator.NextFireTime(entry.Schedule, after)
	if err != nil {
		return time.Time{}, &TriggerEvaluationError{
			WorkflowID: entry.WorkflowID,
			TriggerID:  entry.TriggerID,
			Schedule:   entry.Schedule,
			Err:        err,
		}
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	if r.generations[entry.WorkflowID] != entry.generation {
		return next, nil
	}

	if _, exists := r.entries[entry.TriggerID]; exists {
		return next, nil
	}

	entry.FireAt = next
	rescheduled := entry
	r.entries[entry.TriggerID] = &rescheduled
	heap.Push(&r.queue, &rescheduled)

	return next, nil
}

// NextFireAt returns the earliest pending fire time.
func (r *Registry) NextFireAt() (time.Time, bool) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	if r.queue.Len() == 0 {
		return time.Time{}, false
	}

	return r.queue[0].FireAt, true
}

// FireTimeOf returns the pending fire time of one trigger.
func (r *Registry) FireTimeOf(triggerID string) (time.Time, bool) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	entry, ok := r.entries[triggerID]
	if !ok {
		return time.Time{}, false
	}

	return entry.FireAt, true
}

// Scheduled is the number of schedule triggers waiting in the queue.
func (r *Registry) Scheduled() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	return r.queue.Len()
}

// Match returns the subscriptions for an inbound (source, type), including
// wildcard subscriptions. Each trigger appears at most once.
func (r *Registry) Match(source, eventType string) []Subscription {
	keys := []string{
		models.EventKey(source, eventType),
		models.EventKey(source, models.Wildcard),
		models.EventKey(models.Wildcard, eventType),
		models.EventKey(models.Wildcard, models.Wildcard),
	}

	r.indexMu.RLock()
	defer r.indexMu.RUnlock()

	seen := make(map[string]struct{})

	var matched []Subscription

	for _, key := range keys {
		for _, sub := range r.index[key] {
			if _, ok := seen[sub.Trigger.ID]; ok {
				continue
			}

			seen[sub.Trigger.ID] = struct{}{}
			matched = append(matched, sub)
		}
	}

	return matched
}
