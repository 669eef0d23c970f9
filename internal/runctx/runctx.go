// Package runctx holds the state owned by a single run.
package runctx

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/observability"
)

// RunContext is created per run and passed explicitly. It owns the driver
// for the run's duration and is not shared between goroutines.
type RunContext struct {
	ID        string
	Task      string
	StartedAt time.Time

	Driver browser.Driver
	Store  *artifacts.Store
	Logger *zap.Logger

	// History holds the steps that succeeded, in order. A repaired step
	// appears in place of the one it replaced.
	History []schemas.Step
}

// New creates a RunContext with a fresh id. The logger is tagged with the
// run id and task.
func New(task string, driver browser.Driver, store *artifacts.Store, logger *zap.Logger) *RunContext {
	id := uuid.NewString()
	return &RunContext{
		ID:        id,
		Task:      task,
		StartedAt: time.Now(),
		Driver:    driver,
		Store:     store,
		Logger:    observability.ForRun(logger, id, task),
	}
}

// Record appends a successful step to the history.
func (rc *RunContext) Record(step schemas.Step) {
	rc.History = append(rc.History, step)
}

// PreviousSteps returns a copy of the history.
func (rc *RunContext) PreviousSteps() []schemas.Step {
	out := make([]schemas.Step, len(rc.History))
	copy(out, rc.History)
	return out
}
