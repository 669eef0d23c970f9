package schemas

import (
	"context"
)

// Planner is the external step author. Both calls return the raw model
// response; deciding whether it is a well formed plan or step is the
// caller's job.
type Planner interface {
	Plan(ctx context.Context, task string) (string, error)
	Repair(ctx context.Context, req RepairRequest) (string, error)
}

// ModelTier picks between the quick model used for repairs and the stronger
// one used for whole plans.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions overrides the model's configured sampling. Zero values
// fall back to the configuration.
type GenerationOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	// ForceJSONFormat asks the provider for an application/json response.
	ForceJSONFormat bool `json:"force_json_format"`
}

// GenerationRequest is one prompt pair sent to a model tier.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is implemented by provider clients and by the tier router.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}
