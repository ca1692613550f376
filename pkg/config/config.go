package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the application-level configuration stored in config.json.
// It holds the backend provider groups, the persona of the assistant and the
// sandbox settings of the storage tools.
type Config struct {
	// LLM holds the provider groups in raw JSON; pkg/llm decodes it.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the default system message of every chat exchange.
	SystemPrompt string `json:"system_prompt"`
	// Role is the persona line used in the per-step prompt of a task pipeline.
	Role string `json:"role"`
	// OutputDir is the sandbox directory of the storage tools.
	OutputDir string `json:"output_dir"`
	// ValidExtensions lists the file extensions the storage tools accept.
	ValidExtensions []string      `json:"valid_extensions"`
	Monitor         MonitorConfig `json:"monitor"`
}

// MonitorConfig selects the transcript monitors.
type MonitorConfig struct {
	// CLI prints every committed message with a banner.
	CLI bool `json:"cli"`
	// WebPort enables the websocket monitor when non-zero.
	WebPort int `json:"web_port"`
}

// Validate ensures the configuration structure contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	if c.Monitor.WebPort < 0 || c.Monitor.WebPort > 65535 {
		return fmt.Errorf("monitor.web_port out of range: %d", c.Monitor.WebPort)
	}
	return nil
}

// ApplyDefaults fills optional fields left empty in config.json.
func (c *Config) ApplyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if len(c.ValidExtensions) == 0 {
		c.ValidExtensions = []string{".txt", ".md", ".json"}
	}
	if c.Role == "" {
		c.Role = "You are a meticulous assistant that completes multi-step tasks."
	}
}

// SystemConfig defines engine-level technical parameters stored in system.json.
type SystemConfig struct {
	// MaxRetries is the number of attempts per provider on transient errors.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base delay between provider retries.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one backend call.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is used when an ollama group has no base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer sizes the stream chunk channels of the providers.
	InternalChannelBuffer int `json:"internal_channel_buffer"`

	// RetryBudget is the number of format-correction retries a handler grants
	// before the exchange fails.
	RetryBudget int `json:"retry_budget"`
	// MaxTurns bounds the backend calls of one free-order exchange.
	MaxTurns int `json:"max_turns"`
	// ImproveIterations is the number of judge/revise rounds of the improver.
	ImproveIterations int `json:"improve_iterations"`
	// MaxRejections and MaxRollbacks bound the pipeline negotiation loops.
	// Zero means unbounded.
	MaxRejections int `json:"max_rejections"`
	MaxRollbacks  int `json:"max_rollbacks"`

	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	ContextWindow int     `json:"context_window"`
	// DynamicContext sizes the context window from the input word count.
	DynamicContext bool `json:"dynamic_context"`
	// MaxTokens is the reply allowance added to a dynamic context window.
	MaxTokens int `json:"max_tokens"`
	// Seed fixes the sampling seed; nil draws a random one per call.
	Seed *int `json:"seed,omitempty"`

	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns safe defaults used when system.json is missing
// or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		RetryBudget:           3,
		MaxTurns:              10,
		ImproveIterations:     3,
		Temperature:           0.5,
		TopP:                  0.9,
		ContextWindow:         8192,
		MaxTokens:             2048,
		LogLevel:              "info",
	}
}

// Load reads config.json and system.json from the given paths.
// The app config is mandatory; the system config falls back to defaults.
func Load(appPath, systemPath string) (*Config, *SystemConfig, error) {
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, LoadSystemConfig(systemPath), nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	return cfg
}
