package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/actions"
	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/browser/session"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/executor"
	"github.com/xkilldash9x/mender/internal/llmclient"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/planner"
	"github.com/xkilldash9x/mender/internal/runctx"
	"github.com/xkilldash9x/mender/internal/runner"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Seams for tests.
var (
	newLLMClient = llmclient.NewClient
	openDriver   = openBrowserSession
)

func newRunCmd() *cobra.Command {
	var headless bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a plan in the browser, repairing a failed step once",
		Long: `Run executes steps in a fresh browser session. Steps come from --plan, or
are generated from --task by the planner. Each failed step is sent to the
planner for one repair; if the repair fails too the run aborts and the exit
status is non-zero. Artifacts and run_report.json are written to a
timestamped directory under the artifacts root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}

			rc := config.RunConfig{
				Task:         strings.TrimSpace(mustString(cmd, "task")),
				PlanFile:     mustString(cmd, "plan"),
				StorageState: mustString(cmd, "storage-state"),
				Output:       mustString(cmd, "output"),
			}
			if rc.Task == "" && rc.PlanFile == "" {
				return fmt.Errorf("either --task or --plan is required")
			}
			cfg.SetRunConfig(rc)
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}

			report, err := runPlan(cmd.Context(), cfg, observability.GetLogger())
			if report != nil {
				printSummary(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	runCmd.Flags().StringP("task", "t", "", "Task description. Used to generate a plan and as context for repairs.")
	runCmd.Flags().StringP("plan", "p", "", "Plan file (.json, .yaml or .yml). Skips plan generation.")
	runCmd.Flags().String("storage-state", "", "Storage state JSON (cookies and localStorage) applied before the first step.")
	runCmd.Flags().StringP("output", "o", "", "Artifacts root directory. (Overrides artifacts.root)")
	runCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser headless. (Overrides browser.headless, which defaults to false)")
	return runCmd
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// runPlan wires the run components and executes the plan. The metrics
// server, when enabled, runs beside the plan in one errgroup.
func runPlan(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*schemas.RunReport, error) {
	run := cfg.Run()

	var metrics *observability.Metrics
	if cfg.Metrics().Enabled {
		metrics = observability.NewMetrics(cfg.Metrics().Namespace)
	}

	p, closePlanner, err := buildPlanner(ctx, cfg, logger, metrics, run.PlanFile != "")
	if err != nil {
		return nil, err
	}
	defer closePlanner()

	steps, err := resolveSteps(ctx, run, p, logger)
	if err != nil {
		return nil, err
	}

	root := cfg.Artifacts().Root
	if run.Output != "" {
		root = run.Output
	}
	dir, err := artifacts.NewRunDir(root, cfg.Artifacts().TimestampLayout, time.Now())
	if err != nil {
		return nil, err
	}

	driver, closeDriver, err := openDriver(ctx, cfg, run.StorageState, logger)
	if err != nil {
		return nil, err
	}
	defer closeDriver()

	primitives, err := actions.New(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	store := artifacts.NewStore(dir, cfg, logger, metrics)
	runCtx := runctx.New(run.Task, driver, store, logger)
	r := runner.New(executor.New(cfg, primitives, logger, metrics), p, logger, metrics)

	g, gctx := errgroup.WithContext(ctx)
	var server *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server = &http.Server{Addr: cfg.Metrics().Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("Metrics server listening.", zap.String("address", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	var report *schemas.RunReport
	g.Go(func() error {
		var runErr error
		report, runErr = r.Run(gctx, runCtx, steps)
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}
		return runErr
	})

	err = g.Wait()
	return report, err
}

// buildPlanner returns the LLM-backed planner. With a plan file the run can
// proceed without a model; repairs then fail as request errors.
func buildPlanner(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, havePlan bool) (schemas.Planner, func(), error) {
	client, err := newLLMClient(ctx, cfg.Agent(), logger, metrics)
	if err != nil {
		if !havePlan {
			return nil, nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		logger.Warn("Planner unavailable, repairs will fail.", zap.Error(err))
		return unavailablePlanner{err: err}, func() {}, nil
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close LLM client.", zap.Error(err))
		}
	}
	return planner.New(client, logger), closeFn, nil
}

type unavailablePlanner struct{ err error }

func (u unavailablePlanner) Plan(context.Context, string) (string, error) {
	return "", fmt.Errorf("planner unavailable: %w", u.err)
}

func (u unavailablePlanner) Repair(context.Context, schemas.RepairRequest) (string, error) {
	return "", fmt.Errorf("planner unavailable: %w", u.err)
}

func resolveSteps(ctx context.Context, run config.RunConfig, p schemas.Planner, logger *zap.Logger) ([]schemas.Step, error) {
	if run.PlanFile != "" {
		steps, err := loadPlanFile(run.PlanFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Plan loaded.", zap.String("path", run.PlanFile), zap.Int("steps", len(steps)))
		return steps, nil
	}

	resp, err := p.Plan(ctx, run.Task)
	if err != nil {
		return nil, err
	}
	steps, err := planner.ParsePlan(resp)
	if err != nil {
		return nil, err
	}
	logger.Info("Plan generated.", zap.Int("steps", len(steps)))
	return steps, nil
}

// loadPlanFile reads a step array. YAML is used for .yaml and .yml, JSON for
// everything else.
func loadPlanFile(path string) ([]schemas.Step, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand plan path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var steps []schemas.Step
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &steps)
	default:
		err = json.Unmarshal(data, &steps)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file '%s': %w", path, err)
	}
	if len(steps) == 0 {
		return nil, planner.ErrEmptyPlan
	}
	return steps, nil
}

// openBrowserSession launches Chrome and applies the storage state, if any.
func openBrowserSession(ctx context.Context, cfg config.Interface, storageState string, logger *zap.Logger) (browser.Driver, func(), error) {
	var state *schemas.StorageState
	if storageState != "" {
		path, err := homedir.Expand(storageState)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to expand storage state path: %w", err)
		}
		if state, err = session.LoadStorageState(path); err != nil {
			return nil, nil, err
		}
	}

	s, err := session.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if state != nil {
		if err := session.ApplyStorageState(ctx, s, state, logger); err != nil {
			s.Close()
			return nil, nil, err
		}
	}
	return s, s.Close, nil
}

// printSummary writes the human-readable end-of-run report.
func printSummary(w io.Writer, report *schemas.RunReport) {
	fmt.Fprintf(w, "\nRun %s: %s\n", report.RunID, report.Status)
	for _, o := range report.Outcomes {
		mark := "ok"
		if !o.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(w, "  [%d] %-8s %-20s %s", o.Index, o.Attempt, o.Step.Action, mark)
		if o.Error != "" {
			fmt.Fprintf(w, ": %s", o.Error)
		}
		fmt.Fprintln(w)
	}
	if report.Status == schemas.RunAborted {
		if report.FailedIndex != nil {
			fmt.Fprintf(w, "Step %d failed (%s): %s\n", *report.FailedIndex, report.AbortCode, report.AbortReason)
		}
		fmt.Fprintln(w, "Execution stopped early. Partial artifacts are preserved.")
	}
	if report.OutputDir != "" {
		fmt.Fprintf(w, "Artifacts: %s\n", report.OutputDir)
	}
}
