// Package file provides file-based persistence: one JSON document per
// workflow, execution and scheduled task, guarded by per-document locks.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	taskRepo      *ScheduledTaskRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	locks := newKeyedMutex()
	workflows := newWorkflowRepository(cleanRoot, locks)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  workflows,
		executionRepo: NewExecutionRepository(cleanRoot, workflows),
		taskRepo:      newScheduledTaskRepository(cleanRoot, locks),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck creates the root directory when missing and verifies it is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0o750); err != nil {
		return fmt.Errorf("file persistence root %s: %w", fp.root, err)
	}

	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("file persistence root %s: %w", fp.root, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("file persistence root %s is not a directory", fp.root)
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// ExecutionRepository returns the execution repository.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// ScheduledTaskRepository returns the scheduled task repository.
func (fp *Persistence) ScheduledTaskRepository() persistence.ScheduledTaskRepository {
	return fp.taskRepo
}
