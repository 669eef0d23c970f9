package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/actions"
	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/mocks"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/runctx"
)

const domPayload = `[{"tag":"button","role":null,"text":"New page","aria":null,"placeholder":null,"type":null,"href":null,"selector":"[data-testid='new-page']"}]`

var (
	homepage = browser.PageState{URL: "https://app.test/", HTML: "<html><body><h1>Home</h1></body></html>"}
	docsPage = browser.PageState{URL: "https://app.test/docs", HTML: "<html><body><h1>Docs</h1></body></html>"}
)

// -- Test Fixture --

type fixture struct {
	exec   *Executor
	driver *mocks.MockDriver
	rc     *runctx.RunContext
	store  *artifacts.Store
	m      *observability.Metrics
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	cfg := config.NewDefaultConfig()
	m := observability.NewMetrics("mender_test")
	prims, err := actions.New(cfg, logger, m)
	require.NoError(t, err)

	dir, err := artifacts.NewRunDir(t.TempDir(), cfg.Artifacts().TimestampLayout, time.Now())
	require.NoError(t, err)
	store := artifacts.NewStore(dir, cfg, logger, m)

	d := new(mocks.MockDriver)
	return &fixture{
		exec:   New(cfg, prims, logger, m),
		driver: d,
		rc:     runctx.New("create a page", d, store, logger),
		store:  store,
		m:      m,
	}
}

// expectSnapshot wires the calls made by every snapshot capture.
func (f *fixture) expectSnapshot() {
	f.driver.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Run(mocks.DecodeInto(domPayload)).Return(nil)
	f.driver.On("AccessibilityNodes", mock.Anything).Return(nil, errors.New("accessibility domain unavailable"))
}

func (f *fixture) expectScreenshot() {
	f.driver.On("Screenshot", mock.Anything).Return([]byte("\x89PNG"), nil)
}

func (f *fixture) pageStates(states ...browser.PageState) {
	for _, st := range states {
		f.driver.On("PageState", mock.Anything, "html", true).Return(st, nil).Once()
	}
}

func TestExecute_ChangeRequiringSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.pageStates(homepage, docsPage)
	f.driver.On("Navigate", mock.Anything, "https://app.test/docs").Return(nil)
	f.expectSnapshot()
	f.expectScreenshot()

	step := schemas.Step{Action: schemas.ActionGoto, Value: schemas.StringValue("https://app.test/docs"), Description: "open docs"}
	out := f.exec.Execute(context.Background(), f.rc, 0, step, schemas.AttemptOriginal)

	require.True(t, out.Success, out.Error)
	assert.True(t, out.Changed)
	assert.Empty(t, out.ErrorCode)
	assert.Equal(t, schemas.AttemptOriginal, out.Attempt)
	require.Len(t, out.SemanticDOM, 1)
	assert.Equal(t, "New page", out.SemanticDOM[0].Text)
	assert.Nil(t, out.AccessibilityTree)

	require.NotNil(t, out.Artifacts)
	assert.Equal(t, filepath.Join(f.store.Dir(), "screenshots", "1_open_docs.png"), out.Artifacts.Screenshot)
	assert.FileExists(t, out.Artifacts.Screenshot)
	assert.FileExists(t, out.Artifacts.SemanticDOM)
	assert.FileExists(t, out.Artifacts.AccessibilityTree)

	assert.Equal(t, 1.0, stepCount(t, f.m, "goto", "original", "success"))
}

func TestExecute_ChangeNotObserved(t *testing.T) {
	f := newFixture(t, nil)
	f.pageStates(homepage, homepage)
	f.driver.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	f.expectSnapshot()

	step := schemas.Step{Action: schemas.ActionGoto, Value: schemas.StringValue("https://app.test/")}
	out := f.exec.Execute(context.Background(), f.rc, 3, step, schemas.AttemptOriginal)

	assert.False(t, out.Success)
	assert.False(t, out.Changed)
	assert.Equal(t, schemas.ErrCodeChangeNotObserved, out.ErrorCode)
	assert.Contains(t, out.Error, "no observable change")
	assert.Equal(t, "change_not_observed", out.ErrorDetails["reason"])
	assert.Nil(t, out.Artifacts, "failed attempts persist nothing")
	assert.NotEmpty(t, out.SemanticDOM, "failures still carry a fresh snapshot")
	f.driver.AssertNotCalled(t, "Screenshot", mock.Anything)

	entries, err := os.ReadDir(filepath.Join(f.store.Dir(), artifacts.ScreenshotsDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// Actions outside the change-requiring set succeed on an identical page.
func TestExecute_ExemptActionsIgnoreFingerprint(t *testing.T) {
	el := browser.Element{Selector: "#q"}
	tests := []struct {
		name   string
		step   schemas.Step
		expect func(d *mocks.MockDriver)
	}{
		{
			name: "wait",
			step: schemas.Step{Action: schemas.ActionWait, Value: schemas.NumberValue(0)},
		},
		{
			name: "wait_for",
			step: schemas.Step{Action: schemas.ActionWaitFor, Selector: "#q"},
			expect: func(d *mocks.MockDriver) {
				d.On("Resolve", mock.Anything, mock.Anything, "").Return(el, nil)
			},
		},
		{
			name: "click",
			step: schemas.Step{Action: schemas.ActionClick, Selector: "#q"},
			expect: func(d *mocks.MockDriver) {
				d.On("Resolve", mock.Anything, mock.Anything, "").Return(el, nil)
				d.On("WaitVisible", mock.Anything, el, mock.Anything).Return(nil)
				d.On("ScrollIntoView", mock.Anything, el).Return(nil)
				d.On("Click", mock.Anything, el).Return(nil)
			},
		},
		{
			name: "type",
			step: schemas.Step{Action: schemas.ActionType, Selector: "#q", Value: schemas.StringValue("hello")},
			expect: func(d *mocks.MockDriver) {
				d.On("Resolve", mock.Anything, mock.Anything, "").Return(el, nil)
				d.On("SetValue", mock.Anything, el, "hello").Return(nil)
			},
		},
		{
			name: "hover",
			step: schemas.Step{Action: schemas.ActionHover, Selector: "#q"},
			expect: func(d *mocks.MockDriver) {
				d.On("Resolve", mock.Anything, mock.Anything, "").Return(el, nil)
				d.On("ScrollIntoView", mock.Anything, el).Return(nil)
				d.On("BoundingBox", mock.Anything, el).Return(schemas.BoundingBox{Width: 10, Height: 10}, nil)
				d.On("MouseMove", mock.Anything, 5.0, 5.0).Return(nil)
			},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.pageStates(homepage, homepage)
			f.expectSnapshot()
			f.expectScreenshot()
			if tt.expect != nil {
				tt.expect(f.driver)
			}

			out := f.exec.Execute(context.Background(), f.rc, i, tt.step, schemas.AttemptOriginal)
			assert.True(t, out.Success, out.Error)
			assert.False(t, out.Changed)
			require.NotNil(t, out.Artifacts)
		})
	}
}

func TestExecute_ScreenshotShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	f.expectSnapshot()
	f.expectScreenshot()

	out := f.exec.Execute(context.Background(), f.rc, 5, schemas.Step{Action: schemas.ActionScreenshot, Description: "final state"}, schemas.AttemptOriginal)

	require.True(t, out.Success)
	require.NotNil(t, out.Artifacts)
	assert.Equal(t, filepath.Join(f.store.Dir(), "screenshots", "6_final_state.png"), out.Artifacts.Screenshot)
	f.driver.AssertNotCalled(t, "PageState", mock.Anything, mock.Anything, mock.Anything)

	// Only observation methods were used.
	for _, c := range f.driver.Calls {
		assert.Contains(t, []string{"Evaluate", "AccessibilityNodes", "Screenshot"}, c.Method)
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	f := newFixture(t, nil)
	f.pageStates(homepage)
	f.expectSnapshot()

	out := f.exec.Execute(context.Background(), f.rc, 0, schemas.Step{Action: "double_click", Selector: "#x"}, schemas.AttemptOriginal)

	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrCodeUnknownAction, out.ErrorCode)
	assert.Contains(t, out.Error, `"double_click"`)
	f.driver.AssertNumberOfCalls(t, "PageState", 1)
}

func TestExecute_MissingElement(t *testing.T) {
	f := newFixture(t, nil)
	f.pageStates(homepage)
	f.expectSnapshot()
	f.driver.On("Resolve", mock.Anything, mock.Anything, "").
		Return(browser.Element{}, fmt.Errorf("%w: no match for selector '#missing' within 5s", browser.ErrElementNotFound))

	out := f.exec.Execute(context.Background(), f.rc, 1, schemas.Step{Action: schemas.ActionClick, Selector: "#missing"}, schemas.AttemptOriginal)

	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrCodeActionExecution, out.ErrorCode)
	assert.Contains(t, out.Error, "#missing")
	assert.Equal(t, "element_not_found", out.ErrorDetails["reason"])
	assert.Equal(t, "#missing", out.ErrorDetails["selector"])
	assert.Equal(t, 1.0, stepCount(t, f.m, "click", "original", "failure"))
}

func TestExecute_FingerprintUnavailable(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	f.driver.On("PageState", mock.Anything, mock.Anything, mock.Anything).Return(browser.PageState{}, errors.New("execution context destroyed"))
	f.driver.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	f.expectSnapshot()
	f.expectScreenshot()

	out := f.exec.Execute(context.Background(), f.rc, 0, schemas.Step{Action: schemas.ActionGoto, Value: schemas.StringValue("https://app.test/")}, schemas.AttemptRepair)

	assert.True(t, out.Success, "verification is skipped rather than failing the step")
	assert.Equal(t, schemas.AttemptRepair, out.Attempt)
	assert.Equal(t, 2, logs.FilterMessage("Fingerprint unavailable.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Change verification skipped, fingerprint unavailable.").Len())
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, browser.Driver, schemas.Step) error {
	panic("nil element handle")
}

func TestExecute_RecoversPanics(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.dispatcher = panicDispatcher{}
	f.pageStates(homepage)
	f.expectSnapshot()

	out := f.exec.Execute(context.Background(), f.rc, 0, schemas.Step{Action: schemas.ActionClick, Selector: "#x"}, schemas.AttemptOriginal)
	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrCodeActionExecution, out.ErrorCode)
	assert.Contains(t, out.Error, "nil element handle")
	assert.Equal(t, "panic", out.ErrorDetails["reason"])
}

func TestExecute_ArtifactFailureIsNonFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	f.expectSnapshot()
	f.expectScreenshot()

	// Occupy the screenshot path so the exclusive create fails.
	taken := filepath.Join(f.store.Dir(), artifacts.ScreenshotsDir, "1_snap.png")
	require.NoError(t, os.WriteFile(taken, []byte("old"), 0o644))

	out := f.exec.Execute(context.Background(), f.rc, 0, schemas.Step{Action: schemas.ActionScreenshot, Description: "snap"}, schemas.AttemptOriginal)
	require.True(t, out.Success)
	assert.Empty(t, out.Artifacts.Screenshot)
	assert.NotEmpty(t, out.Artifacts.SemanticDOM)
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist step artifacts.").Len())

	data, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want schemas.ErrorCode
	}{
		{nil, ""},
		{fmt.Errorf("%w: %q", ErrUnknownAction, "zoom"), schemas.ErrCodeUnknownAction},
		{fmt.Errorf("%w (goto)", ErrChangeNotObserved), schemas.ErrCodeChangeNotObserved},
		{fmt.Errorf("click failed for selector '#a': %w", browser.ErrNotVisible), schemas.ErrCodeActionExecution},
		{context.DeadlineExceeded, schemas.ErrCodeActionExecution},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), fmt.Sprint(tt.err))
	}
}

func TestDetails(t *testing.T) {
	step := schemas.Step{Action: schemas.ActionFrameType, Selector: "#body", FrameName: "editor"}

	d := Details(fmt.Errorf("fill failed for selector '#body': %w", browser.ErrFrameNotFound), step)
	assert.Equal(t, "frame_not_found", d["reason"])
	assert.Equal(t, "editor", d["frame_name"])
	assert.Equal(t, "frame_type", d["action"])

	d = Details(errors.New("navigation to 'x' timed out after 60s: context deadline exceeded"), schemas.Step{Action: schemas.ActionGoto})
	assert.Equal(t, "timeout", d["reason"])
	assert.NotContains(t, d, "selector")

	d = Details(errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), schemas.Step{Action: schemas.ActionGoto})
	assert.Equal(t, "navigation", d["reason"])
	assert.True(t, strings.HasPrefix(d["message"].(string), "page load error"))
}

func stepCount(t *testing.T, m *observability.Metrics, action, attempt, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "mender_test_steps_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["action"] == action && labels["attempt"] == attempt && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
