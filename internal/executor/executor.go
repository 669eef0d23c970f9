// Package executor runs a single step attempt: fingerprint, dispatch, verify,
// then capture and persist evidence. Every failure is returned as an outcome,
// never as an error.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/runctx"
	"github.com/xkilldash9x/mender/internal/snapshot"
	"github.com/xkilldash9x/mender/internal/verify"
)

// Dispatcher performs a step's action against the page.
type Dispatcher interface {
	Dispatch(ctx context.Context, d browser.Driver, step schemas.Step) error
}

// Executor is stateless between calls; run state lives in the RunContext.
type Executor struct {
	logger        *zap.Logger
	dispatcher    Dispatcher
	fingerprinter *verify.Fingerprinter
	verifier      *verify.Verifier
	extractor     *snapshot.Extractor
	metrics       *observability.Metrics
}

// New creates an Executor. metrics may be nil.
func New(cfg config.Interface, dispatcher Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		logger:        logger.Named("executor"),
		dispatcher:    dispatcher,
		fingerprinter: verify.NewFingerprinter(cfg),
		verifier:      verify.NewVerifier(cfg, logger),
		extractor:     snapshot.NewExtractor(cfg, logger),
		metrics:       metrics,
	}
}

// Snapshot captures fresh page views for a repair request.
func (e *Executor) Snapshot(ctx context.Context, rc *runctx.RunContext) schemas.Snapshot {
	return e.extractor.Capture(ctx, rc.Driver)
}

// Execute attempts step at index and returns a new outcome.
func (e *Executor) Execute(ctx context.Context, rc *runctx.RunContext, index int, step schemas.Step, attempt schemas.Attempt) *schemas.ExecutionOutcome {
	start := time.Now()
	logger := rc.Logger.With(
		zap.Int("index", index),
		zap.String("action", string(step.Action)),
		zap.String("selector", step.Selector),
		zap.String("attempt", string(attempt)),
	)
	out := &schemas.ExecutionOutcome{Index: index, Step: step, Attempt: attempt}
	defer func() {
		out.Duration = time.Since(start)
		e.metrics.RecordStep(string(step.Action), string(attempt), out.Success, out.Duration)
	}()

	// Observation only; no fingerprint and no verification.
	if step.Action == schemas.ActionScreenshot {
		e.succeed(ctx, rc, out, logger)
		return out
	}

	before, verifiable := e.fingerprint(ctx, rc.Driver, logger, "before")

	logger.Info("Executing step.", zap.String("description", step.Description))
	err := e.dispatch(ctx, rc.Driver, step, logger)

	if err == nil {
		after, ok := e.fingerprint(ctx, rc.Driver, logger, "after")
		if verifiable && ok {
			out.Changed = before != after
			err = e.verifier.Verify(step.Action, before, after)
		} else if e.verifier.Requires(step.Action) {
			logger.Warn("Change verification skipped, fingerprint unavailable.")
		}
	}

	if err != nil {
		e.fail(ctx, rc, out, err, logger)
		return out
	}
	e.succeed(ctx, rc, out, logger)
	return out
}

func (e *Executor) fingerprint(ctx context.Context, d browser.Driver, logger *zap.Logger, phase string) (verify.Fingerprint, bool) {
	fp, err := e.fingerprinter.Capture(ctx, d)
	if err != nil {
		logger.Warn("Fingerprint unavailable.", zap.String("phase", phase), zap.Error(err))
		return "", false
	}
	return fp, true
}

// dispatch converts a panicking primitive into an ordinary step failure.
func (e *Executor) dispatch(ctx context.Context, d browser.Driver, step schemas.Step, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered during action dispatch.",
				zap.Any("panic_value", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("%w: %s: %v", ErrActionPanic, step.Action, r)
		}
	}()
	return e.dispatcher.Dispatch(ctx, d, step)
}

func (e *Executor) succeed(ctx context.Context, rc *runctx.RunContext, out *schemas.ExecutionOutcome, logger *zap.Logger) {
	snap := e.extractor.Capture(ctx, rc.Driver)
	out.Success = true
	out.SemanticDOM = snap.SemanticDOM
	out.AccessibilityTree = snap.AccessibilityTree

	png, err := rc.Driver.Screenshot(ctx)
	if err != nil {
		logger.Warn("Screenshot failed.", zap.Error(err))
		png = nil
	}

	if rc.Store != nil {
		paths, err := rc.Store.SaveStep(out.Index, out.Step.Label(out.Index), png, snap)
		if err != nil {
			// Non-fatal.
			logger.Warn("Failed to persist step artifacts.", zap.Error(err))
		}
		out.Artifacts = paths
	}
	logger.Info("Step succeeded.", zap.Bool("changed", out.Changed))
}

func (e *Executor) fail(ctx context.Context, rc *runctx.RunContext, out *schemas.ExecutionOutcome, err error, logger *zap.Logger) {
	snap := e.extractor.Capture(ctx, rc.Driver)
	out.Success = false
	out.Error = err.Error()
	out.ErrorCode = Classify(err)
	out.ErrorDetails = Details(err, out.Step)
	out.SemanticDOM = snap.SemanticDOM
	out.AccessibilityTree = snap.AccessibilityTree

	logger.Warn("Step failed.",
		zap.String("error_code", string(out.ErrorCode)),
		zap.Error(err))
}
