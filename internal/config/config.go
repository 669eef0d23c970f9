// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Actions() ActionsConfig
	Verify() VerifyConfig
	Snapshot() SnapshotConfig
	Artifacts() ArtifactsConfig
	Agent() AgentConfig
	Metrics() MetricsConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Browser Setters
	SetBrowserHeadless(bool)

	// Network Setters
	SetNetworkNavigationTimeout(d time.Duration)
	SetNetworkPostLoadWait(d time.Duration)
}

// Config holds the entire application configuration. Sections are exported so
// viper can unmarshal them; consumers read them through the Interface getters.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	NetworkCfg   NetworkConfig   `mapstructure:"network" yaml:"network"`
	ActionsCfg   ActionsConfig   `mapstructure:"actions" yaml:"actions"`
	VerifyCfg    VerifyConfig    `mapstructure:"verify" yaml:"verify"`
	SnapshotCfg  SnapshotConfig  `mapstructure:"snapshot" yaml:"snapshot"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	// RunCfg gets its marching orders from CLI flags, not the config file.
	RunCfg RunConfig `mapstructure:"-" yaml:"-"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig     { return c.NetworkCfg }
func (c *Config) Actions() ActionsConfig     { return c.ActionsCfg }
func (c *Config) Verify() VerifyConfig       { return c.VerifyCfg }
func (c *Config) Snapshot() SnapshotConfig   { return c.SnapshotCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }
func (c *Config) Run() RunConfig             { return c.RunCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.RunCfg = rc }

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

func (c *Config) SetNetworkNavigationTimeout(d time.Duration) {
	c.NetworkCfg.NavigationTimeout = d
}
func (c *Config) SetNetworkPostLoadWait(d time.Duration) { c.NetworkCfg.PostLoadWait = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by the run.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes page loading behaviour.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	IdleTimeout       time.Duration     `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// ActionsConfig bounds the individual action primitives.
type ActionsConfig struct {
	ResolveTimeout    time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	VisibleTimeout    time.Duration `mapstructure:"visible_timeout" yaml:"visible_timeout"`
	WaitForTimeout    time.Duration `mapstructure:"wait_for_timeout" yaml:"wait_for_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	DefaultWait       time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	TypingDelay       time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
	ScrollSettle      time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	DefaultScrollY    float64       `mapstructure:"default_scroll_y" yaml:"default_scroll_y"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ClickStrategies   []string      `mapstructure:"click_strategies" yaml:"click_strategies"`
	SelectAllKeyCombo string        `mapstructure:"select_all_key_combo" yaml:"select_all_key_combo"`
}

// VerifyConfig controls the change verifier.
type VerifyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Scope is the CSS selector whose markup is hashed.
	Scope            string `mapstructure:"scope" yaml:"scope"`
	IncludeViewport  bool   `mapstructure:"include_viewport" yaml:"include_viewport"`
	IncludeFormState bool   `mapstructure:"include_form_state" yaml:"include_form_state"`
}

// SnapshotConfig controls what the extractor captures and persists.
type SnapshotConfig struct {
	CaptureDOM           bool `mapstructure:"capture_dom" yaml:"capture_dom"`
	CaptureAccessibility bool `mapstructure:"capture_accessibility" yaml:"capture_accessibility"`
	MaxTextLength        int  `mapstructure:"max_text_length" yaml:"max_text_length"`
	MaxElements          int  `mapstructure:"max_elements" yaml:"max_elements"`
}

// ArtifactsConfig controls where per-run output is written.
type ArtifactsConfig struct {
	Root            string `mapstructure:"root" yaml:"root"`
	TimestampLayout string `mapstructure:"timestamp_layout" yaml:"timestamp_layout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Address   string `mapstructure:"address" yaml:"address"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// RunConfig holds settings populated from CLI flags for a single run.
type RunConfig struct {
	Task         string
	PlanFile     string
	StorageState string
	Output       string
}

// AgentConfig holds settings related to the planner and its model.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"-"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetryElapsed   time.Duration     `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mender")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.post_load_wait", "500ms")
	v.SetDefault("network.idle_timeout", "30s")

	// -- Actions --
	v.SetDefault("actions.resolve_timeout", "5s")
	v.SetDefault("actions.visible_timeout", "5s")
	v.SetDefault("actions.wait_for_timeout", "30s")
	v.SetDefault("actions.action_timeout", "30s")
	v.SetDefault("actions.default_wait", "1s")
	v.SetDefault("actions.typing_delay", "40ms")
	v.SetDefault("actions.scroll_settle", "250ms")
	v.SetDefault("actions.default_scroll_y", 400)
	v.SetDefault("actions.poll_interval", "100ms")
	v.SetDefault("actions.click_strategies", []string{"standard", "forced", "bounding_box"})
	v.SetDefault("actions.select_all_key_combo", "Control+A")

	// -- Verify --
	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.scope", "html")
	v.SetDefault("verify.include_viewport", true)
	v.SetDefault("verify.include_form_state", true)

	// -- Snapshot --
	v.SetDefault("snapshot.capture_dom", true)
	v.SetDefault("snapshot.capture_accessibility", true)
	v.SetDefault("snapshot.max_text_length", 200)
	v.SetDefault("snapshot.max_elements", 0)

	// -- Artifacts --
	v.SetDefault("artifacts.root", "agent_outputs")
	v.SetDefault("artifacts.timestamp_layout", "20060102_150405")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")
	v.SetDefault("metrics.namespace", "mender")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.models", map[string]interface{}{
		"gemini-2.5-flash": map[string]interface{}{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-flash",
			"api_timeout":         "90s",
			"temperature":         0.2,
			"requests_per_minute": 30,
			"max_retry_elapsed":   "2m",
		},
		"gemini-2.5-pro": map[string]interface{}{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-pro",
			"api_timeout":         "180s",
			"temperature":         0.2,
			"requests_per_minute": 10,
			"max_retry_elapsed":   "3m",
		},
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("agent.llm.api_key", "MENDER_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A shared key fills every model that does not carry its own.
	if key := v.GetString("agent.llm.api_key"); key != "" {
		cfg.AgentCfg.LLM.applySharedAPIKey(key)
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AgentCfg.LLM.applySharedAPIKey(key)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (r *LLMRouterConfig) applySharedAPIKey(key string) {
	for name, m := range r.Models {
		if m.APIKey == "" {
			m.APIKey = key
			r.Models[name] = m
		}
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if err := c.ActionsCfg.Validate(); err != nil {
		return fmt.Errorf("actions configuration invalid: %w", err)
	}
	if err := c.VerifyCfg.Validate(); err != nil {
		return fmt.Errorf("verify configuration invalid: %w", err)
	}
	if c.SnapshotCfg.MaxTextLength <= 0 || c.SnapshotCfg.MaxTextLength > 200 {
		return fmt.Errorf("snapshot.max_text_length must be between 1 and 200")
	}
	if strings.TrimSpace(c.ArtifactsCfg.Root) == "" {
		return fmt.Errorf("artifacts.root is a required configuration field")
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

var knownClickStrategies = map[string]bool{
	"standard":     true,
	"forced":       true,
	"bounding_box": true,
}

// Validate checks the action primitive settings.
func (a *ActionsConfig) Validate() error {
	if a.ResolveTimeout <= 0 || a.VisibleTimeout <= 0 || a.WaitForTimeout <= 0 || a.ActionTimeout <= 0 {
		return fmt.Errorf("resolve_timeout, visible_timeout, wait_for_timeout and action_timeout must be positive durations")
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if len(a.ClickStrategies) == 0 {
		return fmt.Errorf("click_strategies must name at least one strategy")
	}
	for _, s := range a.ClickStrategies {
		if !knownClickStrategies[s] {
			return fmt.Errorf("unknown click strategy %q", s)
		}
	}
	return nil
}

// Validate checks the verifier settings.
func (v *VerifyConfig) Validate() error {
	if !v.Enabled {
		return nil
	}
	if strings.TrimSpace(v.Scope) == "" {
		return fmt.Errorf("scope must be a non-empty CSS selector")
	}
	return nil
}
