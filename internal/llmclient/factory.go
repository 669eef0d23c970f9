package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

// NewClient builds the tier router from the agent configuration. When the
// fast and powerful tiers name the same model a single client serves both.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	llm := cfg.LLM

	fast, err := newModelClient(ctx, llm, llm.DefaultFastModel, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	powerful := fast
	if llm.DefaultPowerfulModel != llm.DefaultFastModel {
		powerful, err = newModelClient(ctx, llm, llm.DefaultPowerfulModel, logger, metrics)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
	}

	router, err := NewLLMRouter(logger, fast, powerful)
	if err != nil {
		return nil, err
	}
	return router, nil
}

func newModelClient(ctx context.Context, llm config.LLMRouterConfig, name string, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	if name == "" {
		return nil, fmt.Errorf("no model configured")
	}
	modelCfg, ok := llm.Models[name]
	if !ok {
		return nil, fmt.Errorf("model '%s' is not defined in agent.llm.models", name)
	}
	if modelCfg.Model == "" {
		modelCfg.Model = name
	}

	switch modelCfg.Provider {
	case config.ProviderGemini, "":
		client, err := NewGoogleClient(ctx, modelCfg, logger, metrics)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", modelCfg.Provider, config.ProviderGemini)
	}
}
