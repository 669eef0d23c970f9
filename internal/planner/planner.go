// Package planner adapts a language model to the schemas.Planner contract:
// it writes the initial plan for a task and authors single-step repairs.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyPlan is returned by ParsePlan when the model produced no steps.
var ErrEmptyPlan = errors.New("plan contains no steps")

const (
	planTemperature   = 0.2
	repairTemperature = 0.1
)

// Planner implements schemas.Planner over an LLM client.
type Planner struct {
	logger *zap.Logger
	client schemas.LLMClient
}

var _ schemas.Planner = (*Planner)(nil)

// New creates a Planner.
func New(client schemas.LLMClient, logger *zap.Logger) *Planner {
	return &Planner{
		logger: logger.Named("planner"),
		client: client,
	}
}

// Plan asks the powerful tier for the step array of a task and returns the
// raw response. Use ParsePlan to decode it.
func (p *Planner) Plan(ctx context.Context, task string) (string, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("task description is required")
	}

	p.logger.Info("Requesting plan.", zap.Int("task_len", len(task)))
	resp, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt(),
		UserPrompt:   planUserPrompt(task),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     planTemperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	return resp, nil
}

// Repair asks the fast tier for one replacement step and returns the raw
// response. The caller owns parsing, so a malformed answer surfaces as a
// parse failure rather than a transport failure.
func (p *Planner) Repair(ctx context.Context, req schemas.RepairRequest) (string, error) {
	prompt, err := repairUserPrompt(req)
	if err != nil {
		return "", err
	}

	p.logger.Info("Requesting repair.",
		zap.String("action", string(req.FailedStep.Action)),
		zap.String("selector", req.FailedStep.Selector),
		zap.Int("dom_elements", len(req.SemanticDOM)),
		zap.Int("previous_steps", len(req.PreviousSteps)))
	resp, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: repairSystemPrompt(),
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     repairTemperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("repair generation failed: %w", err)
	}
	return resp, nil
}

// ParsePlan decodes a plan response into steps. Markdown fences and
// surrounding prose are tolerated. Unknown actions are kept: they fail at
// execution time and go through repair like any other failed step.
func ParsePlan(resp string) ([]schemas.Step, error) {
	steps, err := llmutil.ParseJSONResponse[[]schemas.Step](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(*steps) == 0 {
		return nil, ErrEmptyPlan
	}
	return *steps, nil
}
