// Package runner drives a plan through the executor and performs the
// one-shot repair protocol: a failed step gets exactly one planner-authored
// replacement, and a failed replacement ends the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/llmutil"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/runctx"
)

var (
	// ErrRunAborted wraps every error returned by Run.
	ErrRunAborted = errors.New("run aborted")
	// ErrRepairRequest means the planner could not be reached or refused.
	ErrRepairRequest = errors.New("repair request failed")
	// ErrRepairParse means the planner's answer was not a single step.
	ErrRepairParse = errors.New("repair response is not a single step")
	// ErrRepairExecution means the replacement step failed too.
	ErrRepairExecution = errors.New("repaired step failed")
)

// Repair outcome labels for metrics.
const (
	repairSuccess      = "success"
	repairFailed       = "failed"
	repairParseError   = "parse_error"
	repairRequestError = "request_error"
)

// StepExecutor runs single attempts and captures fresh snapshots.
type StepExecutor interface {
	Execute(ctx context.Context, rc *runctx.RunContext, index int, step schemas.Step, attempt schemas.Attempt) *schemas.ExecutionOutcome
	Snapshot(ctx context.Context, rc *runctx.RunContext) schemas.Snapshot
}

// Runner executes plans. It holds no per-run state.
type Runner struct {
	logger   *zap.Logger
	executor StepExecutor
	planner  schemas.Planner
	metrics  *observability.Metrics
}

// New creates a Runner. metrics may be nil.
func New(executor StepExecutor, planner schemas.Planner, logger *zap.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		logger:   logger.Named("runner"),
		executor: executor,
		planner:  planner,
		metrics:  metrics,
	}
}

// Run executes steps in order. The report is always returned and, when the
// run has a store, written to run_report.json. A non-nil error wraps
// ErrRunAborted.
func (r *Runner) Run(ctx context.Context, rc *runctx.RunContext, steps []schemas.Step) (*schemas.RunReport, error) {
	report := &schemas.RunReport{
		RunID:     rc.ID,
		Task:      rc.Task,
		StartedAt: rc.StartedAt,
		Status:    schemas.RunCompleted,
		Outcomes:  []schemas.ExecutionOutcome{},
	}
	if rc.Store != nil {
		report.OutputDir = rc.Store.Dir()
	}

	rc.Logger.Info("Run started.", zap.Int("steps", len(steps)), zap.String("output_dir", report.OutputDir))
	err := r.run(ctx, rc, steps, report)

	report.FinishedAt = time.Now()
	report.History = rc.PreviousSteps()
	if err != nil {
		report.Status = schemas.RunAborted
		report.AbortReason = err.Error()
		err = fmt.Errorf("%w: %w", ErrRunAborted, err)
		rc.Logger.Error("Run aborted, execution stopped early. Partial artifacts are preserved.",
			zap.Intp("failed_index", report.FailedIndex),
			zap.String("abort_code", string(report.AbortCode)),
			zap.String("output_dir", report.OutputDir),
			zap.Error(err))
	} else {
		rc.Logger.Info("Run completed.", zap.Int("steps", len(report.History)))
	}

	r.writeReport(rc, report)
	r.metrics.RecordRun(string(report.Status))
	return report, err
}

func (r *Runner) run(ctx context.Context, rc *runctx.RunContext, steps []schemas.Step, report *schemas.RunReport) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			report.FailedIndex = intPtr(i)
			return err
		}

		out := r.executor.Execute(ctx, rc, i, step, schemas.AttemptOriginal)
		report.Outcomes = append(report.Outcomes, withoutSnapshots(out))
		if out.Success {
			rc.Record(step)
			continue
		}
		// A step cut short by cancellation is not a repair candidate.
		if err := ctx.Err(); err != nil {
			report.FailedIndex = intPtr(i)
			return err
		}

		rc.Logger.Warn("Step failed, requesting repair.",
			zap.Int("index", i),
			zap.String("error_code", string(out.ErrorCode)),
			zap.String("error", out.Error))
		if err := r.repair(ctx, rc, i, step, out, report); err != nil {
			return err
		}
	}
	return nil
}

// repair performs the single repair attempt for the step at index.
func (r *Runner) repair(ctx context.Context, rc *runctx.RunContext, index int, failed schemas.Step, out *schemas.ExecutionOutcome, report *schemas.RunReport) error {
	abort := func(code schemas.ErrorCode, result string, err error) error {
		report.FailedIndex = intPtr(index)
		report.AbortCode = code
		r.metrics.RecordRepair(result)
		return err
	}

	// The failure-time snapshot may predate a late DOM update.
	snap := r.executor.Snapshot(ctx, rc)
	req := schemas.RepairRequest{
		Task:              rc.Task,
		PreviousSteps:     rc.PreviousSteps(),
		FailedStep:        failed,
		Error:             out.Error,
		SemanticDOM:       snap.SemanticDOM,
		AccessibilityTree: snap.AccessibilityTree,
	}
	if req.SemanticDOM == nil {
		req.SemanticDOM = []schemas.ElementDescriptor{}
	}

	resp, err := r.planner.Repair(ctx, req)
	if err != nil && ctx.Err() != nil {
		report.FailedIndex = intPtr(index)
		return ctx.Err()
	}
	if err != nil {
		return abort(schemas.ErrCodeRepairRequest, repairRequestError, fmt.Errorf("%w for step %d: %w", ErrRepairRequest, index, err))
	}

	fixed, err := ParseRepair(resp)
	if err != nil {
		return abort(schemas.ErrCodeRepairParse, repairParseError, fmt.Errorf("step %d: %w", index, err))
	}
	rc.Logger.Info("Executing repaired step.",
		zap.Int("index", index),
		zap.String("action", string(fixed.Action)),
		zap.String("selector", fixed.Selector))

	repaired := r.executor.Execute(ctx, rc, index, fixed, schemas.AttemptRepair)
	report.Outcomes = append(report.Outcomes, withoutSnapshots(repaired))
	if !repaired.Success {
		return abort(schemas.ErrCodeRepairExecution, repairFailed, fmt.Errorf("%w: step %d: %s", ErrRepairExecution, index, repaired.Error))
	}

	r.metrics.RecordRepair(repairSuccess)
	rc.Record(fixed)
	return nil
}

// ParseRepair decodes a planner repair response. Anything other than one
// JSON object with a non-empty action is rejected.
func ParseRepair(resp string) (schemas.Step, error) {
	step, err := llmutil.ParseJSONObject[schemas.Step](resp)
	if err != nil {
		return schemas.Step{}, fmt.Errorf("%w: %w", ErrRepairParse, err)
	}
	if step.Action == "" {
		return schemas.Step{}, fmt.Errorf("%w: missing action", ErrRepairParse)
	}
	return *step, nil
}

func (r *Runner) writeReport(rc *runctx.RunContext, report *schemas.RunReport) {
	if rc.Store == nil {
		return
	}
	path, err := rc.Store.WriteReport(report)
	if err != nil {
		rc.Logger.Error("Failed to write run report.", zap.Error(err))
		return
	}
	rc.Logger.Info("Run report written.", zap.String("path", path))
}

// withoutSnapshots copies an outcome for the report; snapshots live in the
// step artifacts.
func withoutSnapshots(out *schemas.ExecutionOutcome) schemas.ExecutionOutcome {
	c := *out
	c.SemanticDOM = nil
	c.AccessibilityTree = nil
	return c
}

func intPtr(i int) *int { return &i }
