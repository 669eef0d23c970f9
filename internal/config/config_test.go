// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Network().NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Network().PostLoadWait)
	assert.Equal(t, 5*time.Second, cfg.Actions().ResolveTimeout)
	assert.Equal(t, 40*time.Millisecond, cfg.Actions().TypingDelay)
	assert.Equal(t, 400.0, cfg.Actions().DefaultScrollY)
	assert.Equal(t, []string{"standard", "forced", "bounding_box"}, cfg.Actions().ClickStrategies)
	assert.True(t, cfg.Verify().Enabled)
	assert.Equal(t, "html", cfg.Verify().Scope)
	assert.Equal(t, 200, cfg.Snapshot().MaxTextLength)
	assert.Equal(t, "agent_outputs", cfg.Artifacts().Root)
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent().LLM.DefaultPowerfulModel)

	flash, ok := cfg.Agent().LLM.Models["gemini-2.5-flash"]
	require.True(t, ok, "default model table should include the fast model")
	assert.Equal(t, ProviderGemini, flash.Provider)
	assert.Equal(t, 90*time.Second, flash.APITimeout)
	assert.InDelta(t, 0.2, float64(flash.Temperature), 1e-6)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		noNav := *cfg
		noNav.NetworkCfg.NavigationTimeout = 0
		err := noNav.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "network.navigation_timeout must be a positive duration")

		badText := *cfg
		badText.SnapshotCfg.MaxTextLength = 500
		err = badText.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "snapshot.max_text_length must be between 1 and 200")

		noRoot := *cfg
		noRoot.ArtifactsCfg.Root = "  "
		err = noRoot.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "artifacts.root is a required configuration field")

		metricsNoAddr := *cfg
		metricsNoAddr.MetricsCfg = MetricsConfig{Enabled: true}
		err = metricsNoAddr.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "metrics.address is required")
	})

	t.Run("Actions Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Actions()
		assert.NoError(t, valid.Validate())

		zeroResolve := valid
		zeroResolve.ResolveTimeout = 0
		assert.Error(t, zeroResolve.Validate())

		zeroPoll := valid
		zeroPoll.PollInterval = 0
		err := zeroPoll.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "poll_interval must be a positive duration")

		noStrategies := valid
		noStrategies.ClickStrategies = nil
		assert.Error(t, noStrategies.Validate())

		unknown := valid
		unknown.ClickStrategies = []string{"standard", "teleport"}
		err = unknown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), `unknown click strategy "teleport"`)
	})

	t.Run("Verify Validation", func(t *testing.T) {
		v := VerifyConfig{Enabled: true, Scope: "main"}
		assert.NoError(t, v.Validate())

		empty := v
		empty.Scope = ""
		assert.Error(t, empty.Validate())

		disabled := empty
		disabled.Enabled = false
		assert.NoError(t, disabled.Validate(), "a disabled verifier needs no scope")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: true
  args: ["--no-sandbox"]
actions:
  typing_delay: 10ms
verify:
  scope: "#app"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"--no-sandbox"}, cfg.Browser().Args)
		assert.Equal(t, 10*time.Millisecond, cfg.Actions().TypingDelay)
		assert.Equal(t, "#app", cfg.Verify().Scope)
		// Untouched sections keep their defaults.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("actions.click_strategies", []string{})

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "click_strategies must name at least one strategy")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		t.Setenv("MENDER_GEMINI_API_KEY", "env-key-123")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		for name, m := range cfg.Agent().LLM.Models {
			assert.Equal(t, "env-key-123", m.APIKey, "model %s should inherit the shared key", name)
		}
	})

	t.Run("Per-Model Key Wins", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.llm.models", map[string]interface{}{
			"custom": map[string]interface{}{
				"provider": "gemini",
				"model":    "gemini-2.5-flash",
				"api_key":  "own-key",
			},
		})
		t.Setenv("MENDER_GEMINI_API_KEY", "shared-key")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "own-key", cfg.Agent().LLM.Models["custom"].APIKey)
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.SetBrowserHeadless(true)
	cfg.SetNetworkNavigationTimeout(5 * time.Second)
	cfg.SetNetworkPostLoadWait(0)
	cfg.SetRunConfig(RunConfig{Task: "t", PlanFile: "plan.yaml"})

	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 5*time.Second, cfg.Network().NavigationTimeout)
	assert.Zero(t, cfg.Network().PostLoadWait)
	assert.Equal(t, "plan.yaml", cfg.Run().PlanFile)
}
