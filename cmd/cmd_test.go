package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/mocks"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/planner"
	"github.com/xkilldash9x/mender/internal/runner"
)

// resetForTest restores package state and seams between tests.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	t.Cleanup(func() {
		cfgFile = ""
		newLLMClient = defaultLLMClient
		openDriver = openBrowserSession
	})
	// Keep the working directory free of a stray config.yaml.
	t.Chdir(t.TempDir())
}

var defaultLLMClient = newLLMClient

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestVersion(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRun_RequiresTaskOrPlan(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either --task or --plan is required")
}

func TestRunCommand_HeadlessFlag(t *testing.T) {
	t.Run("default matches the configuration default", func(t *testing.T) {
		resetForTest(t)
		runCmd, _, err := NewRootCommand().Find([]string{"run"})
		require.NoError(t, err)
		flag := runCmd.Flags().Lookup("headless")
		require.NotNil(t, flag)
		assert.Equal(t, strconv.FormatBool(config.NewDefaultConfig().Browser().Headless), flag.DefValue)
	})

	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"unset keeps browser.headless", nil, false},
		{"set overrides browser.headless", []string{"--headless"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetForTest(t)
			newLLMClient = func(context.Context, config.AgentConfig, *zap.Logger, *observability.Metrics) (schemas.LLMClient, error) {
				return nil, errors.New("Google/Gemini API Key is required")
			}
			var got *bool
			openDriver = func(_ context.Context, cfg config.Interface, _ string, _ *zap.Logger) (browser.Driver, func(), error) {
				h := cfg.Browser().Headless
				got = &h
				return nil, nil, errors.New("browser unavailable")
			}

			args := append([]string{"run", "--plan", writeFile(t, "plan.json", `[{"action":"screenshot"}]`), "--output", t.TempDir()}, tt.args...)
			_, err := executeCommand(t, args...)
			require.Error(t, err)
			require.NotNil(t, got, "the browser was requested")
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestConfigFile_InvalidValueFails(t *testing.T) {
	resetForTest(t)
	path := writeFile(t, "config.yaml", "actions:\n  click_strategies: [teleport]\n")

	_, err := executeCommand(t, "--config", path, "version")
	require.NoError(t, err, "version skips configuration")

	_, err = executeCommand(t, "--config", path, "run", "--task", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown click strategy")
}

func TestPlanCommand(t *testing.T) {
	const resp = "```json\n[{\"action\":\"goto\",\"value\":\"https://linear.app\",\"description\":\"open_application\"},{\"action\":\"screenshot\"}]\n```"

	setup := func(t *testing.T) *mocks.MockLLMClient {
		resetForTest(t)
		client := new(mocks.MockLLMClient)
		client.On("Generate", mock.Anything, mock.Anything).Return(resp, nil).Once()
		client.On("Close").Return(nil).Once()
		newLLMClient = func(context.Context, config.AgentConfig, *zap.Logger, *observability.Metrics) (schemas.LLMClient, error) {
			return client, nil
		}
		return client
	}

	t.Run("json", func(t *testing.T) {
		client := setup(t)
		out, err := executeCommand(t, "plan", "--task", "Create a project in Linear")
		require.NoError(t, err)

		var steps []schemas.Step
		require.NoError(t, json.Unmarshal([]byte(out), &steps))
		require.Len(t, steps, 2)
		assert.Equal(t, schemas.ActionGoto, steps[0].Action)
		assert.NotContains(t, out, "null", "absent values are omitted")
		client.AssertExpectations(t)
	})

	t.Run("yaml to file", func(t *testing.T) {
		setup(t)
		path := filepath.Join(t.TempDir(), "plan.yaml")
		_, err := executeCommand(t, "plan", "--task", "Create a project in Linear", "--format", "yaml", "--out", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var steps []schemas.Step
		require.NoError(t, yaml.Unmarshal(data, &steps))
		require.Len(t, steps, 2)
		url, _ := steps[0].Value.Text()
		assert.Equal(t, "https://linear.app", url)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, "plan", "--task", "x", "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported format 'xml'")
	})
}

func TestLoadPlanFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		p := writeFile(t, "plan.json", `[{"action":"goto","value":"https://trello.com"},{"action":"scroll_by","value":{"y":300}}]`)
		steps, err := loadPlanFile(p)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		x, y, ok := steps[1].Value.Offset(0, 400)
		require.True(t, ok)
		assert.Equal(t, 0.0, x)
		assert.Equal(t, 300.0, y)
	})

	t.Run("yaml", func(t *testing.T) {
		p := writeFile(t, "plan.yml", "- action: wait\n  value: 2\n- action: upload_file\n  selector: input[type=file]\n  value: [a.png, b.png]\n")
		steps, err := loadPlanFile(p)
		require.NoError(t, err)
		n, ok := steps[0].Value.Number()
		require.True(t, ok)
		assert.Equal(t, 2.0, n)
		assert.Equal(t, []string{"a.png", "b.png"}, steps[1].Value.Strings())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := loadPlanFile(writeFile(t, "plan.json", "[]"))
		assert.ErrorIs(t, err, planner.ErrEmptyPlan)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := loadPlanFile(writeFile(t, "plan.json", `{"action":"goto"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse plan file")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := loadPlanFile(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}

// runFixture drives runPlan over a mock driver with no model configured.
func runFixture(t *testing.T, plan string) (*config.Config, *mocks.MockDriver, string) {
	t.Helper()
	resetForTest(t)

	cfg := config.NewDefaultConfig()
	out := t.TempDir()
	cfg.SetRunConfig(config.RunConfig{PlanFile: writeFile(t, "plan.json", plan), Output: out, Task: "smoke"})

	m := new(mocks.MockDriver)
	m.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("AccessibilityNodes", mock.Anything).Return(nil, errors.New("unsupported")).Maybe()
	m.On("Screenshot", mock.Anything).Return([]byte("png"), nil).Maybe()
	m.On("PageState", mock.Anything, mock.Anything, mock.Anything).Return(browser.PageState{}, errors.New("unavailable")).Maybe()

	closed := false
	openDriver = func(context.Context, config.Interface, string, *zap.Logger) (browser.Driver, func(), error) {
		return m, func() { closed = true }, nil
	}
	newLLMClient = func(context.Context, config.AgentConfig, *zap.Logger, *observability.Metrics) (schemas.LLMClient, error) {
		return nil, errors.New("Google/Gemini API Key is required")
	}
	t.Cleanup(func() { assert.True(t, closed, "driver is closed when the run ends") })
	return cfg, m, out
}

func TestRunPlan_Completes(t *testing.T) {
	cfg, _, out := runFixture(t, `[{"action":"screenshot","description":"final_state"}]`)

	report, err := runPlan(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, schemas.RunCompleted, report.Status)
	assert.True(t, strings.HasPrefix(report.OutputDir, out))

	_, err = os.Stat(filepath.Join(report.OutputDir, artifacts.ReportFile))
	assert.NoError(t, err, "run report is written")
	_, err = os.Stat(filepath.Join(report.OutputDir, artifacts.ScreenshotsDir, "1_final_state.png"))
	assert.NoError(t, err)

	var buf bytes.Buffer
	printSummary(&buf, report)
	assert.Contains(t, buf.String(), ": completed")
	assert.NotContains(t, buf.String(), "stopped early")
}

func TestRunPlan_AbortsWithoutPlanner(t *testing.T) {
	cfg, _, _ := runFixture(t, `[{"action":"teleport","selector":"#nowhere"}]`)

	report, err := runPlan(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrRunAborted)
	require.NotNil(t, report)
	assert.Equal(t, schemas.RunAborted, report.Status)
	assert.Equal(t, schemas.ErrCodeRepairRequest, report.AbortCode)
	require.NotNil(t, report.FailedIndex)
	assert.Equal(t, 0, *report.FailedIndex)
	assert.Contains(t, report.AbortReason, "planner unavailable")

	var buf bytes.Buffer
	printSummary(&buf, report)
	assert.Contains(t, buf.String(), "Step 0 failed (REPAIR_REQUEST_ERROR)")
	assert.Contains(t, buf.String(), "Execution stopped early. Partial artifacts are preserved.")
}

func TestRunPlan_TaskWithoutModelFails(t *testing.T) {
	resetForTest(t)
	cfg := config.NewDefaultConfig()
	cfg.SetRunConfig(config.RunConfig{Task: "do it", Output: t.TempDir()})
	newLLMClient = func(context.Context, config.AgentConfig, *zap.Logger, *observability.Metrics) (schemas.LLMClient, error) {
		return nil, errors.New("Google/Gemini API Key is required")
	}
	openDriver = func(context.Context, config.Interface, string, *zap.Logger) (browser.Driver, func(), error) {
		t.Fatal("no browser is opened without a plan")
		return nil, nil, nil
	}

	report, err := runPlan(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "failed to initialize LLM client")
}
