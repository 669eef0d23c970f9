package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/planner"
)

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a plan for a task without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			task := strings.TrimSpace(mustString(cmd, "task"))
			if task == "" {
				return fmt.Errorf("--task is required")
			}
			format := strings.ToLower(mustString(cmd, "format"))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format '%s'. Supported: [json, yaml]", format)
			}

			logger := observability.GetLogger()
			client, err := newLLMClient(cmd.Context(), cfg.Agent(), logger, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize LLM client: %w", err)
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("Failed to close LLM client.", zap.Error(err))
				}
			}()

			resp, err := planner.New(client, logger).Plan(cmd.Context(), task)
			if err != nil {
				return err
			}
			steps, err := planner.ParsePlan(resp)
			if err != nil {
				return err
			}

			out, err := encodePlan(steps, format)
			if err != nil {
				return err
			}

			if path := mustString(cmd, "out"); path != "" {
				expanded, err := homedir.Expand(path)
				if err != nil {
					return fmt.Errorf("failed to expand output path: %w", err)
				}
				if err := os.WriteFile(expanded, out, 0o644); err != nil {
					return fmt.Errorf("failed to write plan: %w", err)
				}
				logger.Info("Plan written.", zap.String("path", expanded), zap.Int("steps", len(steps)))
				return nil
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	planCmd.Flags().StringP("task", "t", "", "Task description.")
	planCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml.")
	planCmd.Flags().String("out", "", "Write the plan to this file instead of stdout.")
	return planCmd
}

func encodePlan(steps []schemas.Step, format string) ([]byte, error) {
	if format == "yaml" {
		out, err := yaml.Marshal(steps)
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan as YAML: %w", err)
		}
		return out, nil
	}
	out, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan as JSON: %w", err)
	}
	return append(out, '\n'), nil
}
