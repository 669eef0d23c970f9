package llmclient

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/internal/config"
)

func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}

// getValidLLMConfig is a Gemini model entry that passes validation. Tests
// override the fields they exercise.
func getValidLLMConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:        config.ProviderGemini,
		APIKey:          "test-api-key",
		Model:           "test-model",
		APITimeout:      5 * time.Second,
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            50,
	}
}
