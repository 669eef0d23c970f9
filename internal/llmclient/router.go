package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// LLMRouter sends plan requests to the powerful model and repair requests to
// the fast one. Both tiers may be served by the same client.
type LLMRouter struct {
	logger   *zap.Logger
	fast     schemas.LLMClient
	powerful schemas.LLMClient
}

var _ schemas.LLMClient = (*LLMRouter)(nil)

func NewLLMRouter(logger *zap.Logger, fast, powerful schemas.LLMClient) (*LLMRouter, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}
	return &LLMRouter{logger: logger.Named("llm_router"), fast: fast, powerful: powerful}, nil
}

func (r *LLMRouter) clientFor(tier schemas.ModelTier) (schemas.LLMClient, error) {
	switch tier {
	case schemas.TierFast:
		return r.fast, nil
	case schemas.TierPowerful, "":
		return r.powerful, nil
	default:
		return nil, fmt.Errorf("no LLM client configured for tier: %s", tier)
	}
}

// Generate dispatches on req.Tier. An empty tier means powerful.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	client, err := r.clientFor(req.Tier)
	if err != nil {
		return "", err
	}
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}
	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)), zap.Bool("json", req.Options.ForceJSONFormat))
	return client.Generate(ctx, req)
}

// Close closes the fast client and, when it is a different instance, the
// powerful one.
func (r *LLMRouter) Close() error {
	var errs []error
	if err := r.fast.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing %s client: %w", schemas.TierFast, err))
	}
	if r.powerful != r.fast {
		if err := r.powerful.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s client: %w", schemas.TierPowerful, err))
		}
	}
	return errors.Join(errs...)
}
