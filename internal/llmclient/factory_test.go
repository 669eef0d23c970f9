package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/internal/config"
)

func agentConfig(fast, powerful string, models map[string]config.LLMModelConfig) config.AgentConfig {
	return config.AgentConfig{
		LLM: config.LLMRouterConfig{
			DefaultFastModel:     fast,
			DefaultPowerfulModel: powerful,
			Models:               models,
		},
	}
}

func TestNewClient_Success_RouterInitialization(t *testing.T) {
	fastConfig := getValidLLMConfig()
	fastConfig.Model = "gemini-flash"
	fastConfig.APIKey = "key-fast"

	powerfulConfig := getValidLLMConfig()
	powerfulConfig.Model = "gemini-pro"
	powerfulConfig.APIKey = "key-powerful"

	cfg := agentConfig("FastAlias", "PowerfulAlias", map[string]config.LLMModelConfig{
		"FastAlias":     fastConfig,
		"PowerfulAlias": powerfulConfig,
	})

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t), nil)
	require.NoError(t, err, "NewClient should succeed for a valid configuration")
	t.Cleanup(func() { _ = client.Close() })

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "The created client should be of type *LLMRouter")

	fastClient, ok := router.fast.(*GoogleClient)
	require.True(t, ok, "Fast client should be an instance of *GoogleClient")
	assert.Equal(t, "gemini-flash", fastClient.model)
	assert.Equal(t, "key-fast", fastClient.config.APIKey)
	assert.NotNil(t, fastClient.client, "SDK client should be initialized")

	powerfulClient, ok := router.powerful.(*GoogleClient)
	require.True(t, ok)
	assert.Equal(t, "gemini-pro", powerfulClient.model)
	assert.Equal(t, "key-powerful", powerfulClient.config.APIKey)
}

func TestNewClient_SharedModel(t *testing.T) {
	m := getValidLLMConfig()
	m.Model = ""
	cfg := agentConfig("gemini-2.5-flash", "gemini-2.5-flash", map[string]config.LLMModelConfig{"gemini-2.5-flash": m})

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	router := client.(*LLMRouter)
	assert.Same(t, router.fast, router.powerful)
	assert.Equal(t, "gemini-2.5-flash", router.fast.(*GoogleClient).model, "map key names the model when none is set")
}

func TestNewClient_Failures(t *testing.T) {
	valid := getValidLLMConfig()
	noKey := getValidLLMConfig()
	noKey.APIKey = ""
	other := getValidLLMConfig()
	other.Provider = "openai"

	tests := []struct {
		name    string
		cfg     config.AgentConfig
		wantErr string
	}{
		{
			name:    "fast model missing from map",
			cfg:     agentConfig("missing", "p", map[string]config.LLMModelConfig{"p": valid}),
			wantErr: "fast tier: model 'missing' is not defined",
		},
		{
			name:    "powerful model missing from map",
			cfg:     agentConfig("f", "missing", map[string]config.LLMModelConfig{"f": valid}),
			wantErr: "powerful tier: model 'missing' is not defined",
		},
		{
			name:    "no default configured",
			cfg:     agentConfig("", "p", map[string]config.LLMModelConfig{"p": valid}),
			wantErr: "fast tier: no model configured",
		},
		{
			name:    "unsupported provider",
			cfg:     agentConfig("f", "f", map[string]config.LLMModelConfig{"f": other}),
			wantErr: "unknown or unsupported LLM provider configured: 'openai'",
		},
		{
			name:    "missing API key",
			cfg:     agentConfig("f", "f", map[string]config.LLMModelConfig{"f": noKey}),
			wantErr: "Google/Gemini API Key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, setupTestLogger(t), nil)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
