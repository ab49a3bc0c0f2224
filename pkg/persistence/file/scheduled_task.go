package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ScheduledTaskRepository stores one JSON document per scheduled task.
type ScheduledTaskRepository struct {
	docs  collection
	locks *keyedMutex
}

// NewScheduledTaskRepository creates a scheduled task repository.
func NewScheduledTaskRepository(root string) *ScheduledTaskRepository {
	return newScheduledTaskRepository(root, newKeyedMutex())
}

func newScheduledTaskRepository(root string, locks *keyedMutex) *ScheduledTaskRepository {
	return &ScheduledTaskRepository{
		docs:  collection{dir: filepath.Join(root, "scheduled_tasks")},
		locks: locks,
	}
}

func taskKey(id string) string {
	return "task:" + id
}

// List returns every task ordered by creation time.
func (tr *ScheduledTaskRepository) List(_ context.Context) ([]*models.ScheduledTask, error) {
	tasks, err := all[models.ScheduledTask](tr.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// GetByID loads one task.
func (tr *ScheduledTaskRepository) GetByID(_ context.Context, id string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask

	found, err := tr.docs.read(id, &task)
	if err != nil {
		return nil, persistence.NewScheduledTaskError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewScheduledTaskError("GetByID", id, persistence.ErrScheduledTaskNotFound)
	}

	return &task, nil
}

// Save writes the task as given.
func (tr *ScheduledTaskRepository) Save(_ context.Context, task *models.ScheduledTask) error {
	unlock := tr.locks.Lock(taskKey(task.ID))
	defer unlock()

	if err := tr.docs.write(task.ID, task); err != nil {
		return persistence.NewScheduledTaskError("Save", task.ID, err)
	}

	return nil
}

// Delete removes a task.
func (tr *ScheduledTaskRepository) Delete(_ context.Context, id string) error {
	unlock := tr.locks.Lock(taskKey(id))
	defer unlock()

	found, err := tr.docs.remove(id)
	if err != nil {
		return persistence.NewScheduledTaskError("Delete", id, err)
	}

	if !found {
		return persistence.NewScheduledTaskError("Delete", id, persistence.ErrScheduledTaskNotFound)
	}

	return nil
}

// DueTasks returns active tasks due at now, earliest first.
func (tr *ScheduledTaskRepository) DueTasks(_ context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	tasks, err := all[models.ScheduledTask](tr.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}

	due := make([]*models.ScheduledTask, 0)

	for _, task := range tasks {
		if task.IsDue(now) {
			due = append(due, task)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})

	return due, nil
}

// Update applies fn under the task's lock.
func (tr *ScheduledTaskRepository) Update(_ context.Context, id string, fn func(task *models.ScheduledTask) error) (*models.ScheduledTask, error) {
	unlock := tr.locks.Lock(taskKey(id))
	defer unlock()

	var task models.ScheduledTask

	found, err := tr.docs.read(id, &task)
	if err != nil {
		return nil, persistence.NewScheduledTaskError("Update", id, err)
	}

	if !found {
		return nil, persistence.NewScheduledTaskError("Update", id, persistence.ErrScheduledTaskNotFound)
	}

	if err := fn(&task); err != nil {
		return nil, err
	}

	task.ID = id

	if err := tr.docs.write(id, &task); err != nil {
		return nil, persistence.NewScheduledTaskError("Update", id, err)
	}

	return &task, nil
}
