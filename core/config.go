// Package core holds the process-wide atoms of crewmonitor: configuration
// loading, configuration errors, environment parsing, exit codes and the
// shutdown function signature.
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnvVar names the optional YAML file overlaid on the defaults.
const ConfigFileEnvVar = "CREWMONITOR_CONFIG_FILE"

// Supported LLM providers.
var knownProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

// Config holds all configuration values. Every field has a default; the
// YAML file and then environment variables override them.
type Config struct {
	ServiceName     string        `yaml:"service_name"`
	Environment     string        `yaml:"environment"`
	Demo            bool          `yaml:"demo"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Monitor MonitorConfig `yaml:"monitor"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	WebUI   WebUIConfig   `yaml:"webui"`
	Log     LogConfig     `yaml:"log"`
	LLM     LLMConfig     `yaml:"llm"`
}

// MonitorConfig tunes the live operation registry.
type MonitorConfig struct {
	UpdateInterval   time.Duration `yaml:"update_interval"`
	RemovalDelay     time.Duration `yaml:"removal_delay"`
	HistorySize      int           `yaml:"history_size"`
	WaitPollInterval time.Duration `yaml:"wait_poll_interval"`
	SinkQueueSize    int           `yaml:"sink_queue_size"`
	ShutdownWait     time.Duration `yaml:"shutdown_wait"`
	ConsoleProgress  bool          `yaml:"console_progress"`
}

// MetricsConfig tunes the metrics collector.
type MetricsConfig struct {
	Retention       time.Duration `yaml:"retention"`
	MaxDataPoints   int           `yaml:"max_data_points"`
	SeriesCap       int           `yaml:"series_cap"`
	TopOperations   int           `yaml:"top_operations"`
	Namespace       string        `yaml:"namespace"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ThresholdConfig is a warning/critical pair.
type ThresholdConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// HealthConfig tunes the health checker.
type HealthConfig struct {
	Timeout       time.Duration              `yaml:"timeout"`
	MaxWorkers    int                        `yaml:"max_workers"`
	HistorySize   int                        `yaml:"history_size"`
	CheckInterval time.Duration              `yaml:"check_interval"`
	Providers     []string                   `yaml:"providers"`
	OllamaURL     string                     `yaml:"ollama_url"`
	OpenAIBaseURL string                     `yaml:"openai_base_url"`
	AnthropicURL  string                     `yaml:"anthropic_url"`
	DiskPath      string                     `yaml:"disk_path"`
	Thresholds    map[string]ThresholdConfig `yaml:"thresholds"`
}

// WebUIConfig configures the HTTP surface.
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Development bool   `yaml:"development"`
	FilePath    string `yaml:"file_path"`
	Level       string `yaml:"level"`
}

// LLMConfig describes the LLM setup checked by the configuration probe.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	ModelName   string  `yaml:"model_name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultConfig returns the built-in configuration.
// This is a pure function with no side effects.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "crewmonitor",
		Environment:     "development",
		ShutdownTimeout: 30 * time.Second,
		Monitor: MonitorConfig{
			UpdateInterval:   500 * time.Millisecond,
			RemovalDelay:     5 * time.Second,
			HistorySize:      10,
			WaitPollInterval: 100 * time.Millisecond,
			SinkQueueSize:    1024,
			ShutdownWait:     2 * time.Second,
			ConsoleProgress:  true,
		},
		Metrics: MetricsConfig{
			Retention:       24 * time.Hour,
			MaxDataPoints:   10000,
			SeriesCap:       1000,
			TopOperations:   10,
			Namespace:       "crewmonitor",
			CleanupInterval: 10 * time.Minute,
		},
		Health: HealthConfig{
			Timeout:       10 * time.Second,
			MaxWorkers:    5,
			HistorySize:   1000,
			CheckInterval: 60 * time.Second,
			OllamaURL:     "http://localhost:11434",
			OpenAIBaseURL: "https://api.openai.com/v1",
			AnthropicURL:  "https://api.anthropic.com/v1/models",
			DiskPath:      "/",
		},
		WebUI: WebUIConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    3000,
		},
		Log: LogConfig{
			Development: true,
			FilePath:    "crewmonitor.log",
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			ModelName:   "llama3",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named
// by CREWMONITOR_CONFIG_FILE (if set), and CREWMONITOR_* environment
// variables, in that order, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnvVar)); path != "" {
		if err := LoadConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys absent
// from the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrConfigFileMissing(path)
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return ErrInvalidConfigFile(path, err.Error())
	}
	return nil
}

// applyEnv overrides cfg with any CREWMONITOR_* variables that are set.
func (c *Config) applyEnv() {
	c.ServiceName = GetEnvOrDefault("CREWMONITOR_SERVICE_NAME", c.ServiceName)
	c.Environment = GetEnvOrDefault("CREWMONITOR_ENVIRONMENT", c.Environment)
	c.Demo = ParseBoolEnv("CREWMONITOR_DEMO", c.Demo)
	c.ShutdownTimeout = ParseDurationEnv("CREWMONITOR_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Monitor.UpdateInterval = ParseDurationEnv("CREWMONITOR_UPDATE_INTERVAL", c.Monitor.UpdateInterval)
	c.Monitor.RemovalDelay = ParseDurationEnv("CREWMONITOR_REMOVAL_DELAY", c.Monitor.RemovalDelay)
	c.Monitor.HistorySize = ParseIntEnv("CREWMONITOR_HISTORY_SIZE", c.Monitor.HistorySize)
	c.Monitor.SinkQueueSize = ParseIntEnv("CREWMONITOR_SINK_QUEUE_SIZE", c.Monitor.SinkQueueSize)
	c.Monitor.ConsoleProgress = ParseBoolEnv("CREWMONITOR_CONSOLE_PROGRESS", c.Monitor.ConsoleProgress)

	c.Metrics.Retention = ParseDurationEnv("CREWMONITOR_METRICS_RETENTION", c.Metrics.Retention)
	c.Metrics.MaxDataPoints = ParseIntEnv("CREWMONITOR_METRICS_MAX_POINTS", c.Metrics.MaxDataPoints)
	c.Metrics.Namespace = GetEnvOrDefault("CREWMONITOR_METRICS_NAMESPACE", c.Metrics.Namespace)

	c.Health.Timeout = ParseDurationEnv("CREWMONITOR_HEALTH_TIMEOUT", c.Health.Timeout)
	c.Health.MaxWorkers = ParseIntEnv("CREWMONITOR_HEALTH_MAX_WORKERS", c.Health.MaxWorkers)
	c.Health.CheckInterval = ParseDurationEnv("CREWMONITOR_HEALTH_INTERVAL", c.Health.CheckInterval)
	c.Health.Providers = ParseListEnv("CREWMONITOR_HEALTH_PROVIDERS", c.Health.Providers)
	c.Health.OllamaURL = GetEnvOrDefault("OLLAMA_BASE_URL", c.Health.OllamaURL)
	c.Health.OpenAIBaseURL = GetEnvOrDefault("OPENAI_BASE_URL", c.Health.OpenAIBaseURL)
	c.Health.DiskPath = GetEnvOrDefault("CREWMONITOR_DISK_PATH", c.Health.DiskPath)

	c.WebUI.Enabled = ParseBoolEnv("CREWMONITOR_WEBUI_ENABLED", c.WebUI.Enabled)
	c.WebUI.Host = GetEnvOrDefault("CREWMONITOR_WEBUI_HOST", c.WebUI.Host)
	c.WebUI.Port = ParseIntEnv("CREWMONITOR_WEBUI_PORT", c.WebUI.Port)

	c.Log.Development = ParseBoolEnv("CREWMONITOR_LOG_DEVELOPMENT", c.Log.Development)
	c.Log.FilePath = GetEnvOrDefault("CREWMONITOR_LOG_FILE", c.Log.FilePath)
	c.Log.Level = GetEnvOrDefault("CREWMONITOR_LOG_LEVEL", c.Log.Level)

	c.LLM.Provider = GetEnvOrDefault("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.ModelName = GetEnvOrDefault("LLM_MODEL_NAME", c.LLM.ModelName)
	c.LLM.Temperature = ParseFloat64Env("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = ParseIntEnv("LLM_MAX_TOKENS", c.LLM.MaxTokens)
}

// Validate returns the first problem found as a *ConfigError, or nil.
// LLM tuning values are not validated here; the configuration health
// probe reports them as warnings instead.
func (c *Config) Validate() error {
	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"shutdown_timeout", c.ShutdownTimeout},
		{"monitor.update_interval", c.Monitor.UpdateInterval},
		{"monitor.wait_poll_interval", c.Monitor.WaitPollInterval},
		{"metrics.retention", c.Metrics.Retention},
		{"metrics.cleanup_interval", c.Metrics.CleanupInterval},
		{"health.timeout", c.Health.Timeout},
		{"health.check_interval", c.Health.CheckInterval},
	}
	for _, d := range positiveDurations {
		if d.value <= 0 {
			return ErrInvalidValue(d.name, d.value, "must be positive")
		}
	}
	if c.Monitor.RemovalDelay < 0 {
		return ErrInvalidValue("monitor.removal_delay", c.Monitor.RemovalDelay, "must not be negative")
	}

	positiveInts := []struct {
		name  string
		value int
	}{
		{"monitor.history_size", c.Monitor.HistorySize},
		{"monitor.sink_queue_size", c.Monitor.SinkQueueSize},
		{"metrics.max_data_points", c.Metrics.MaxDataPoints},
		{"metrics.series_cap", c.Metrics.SeriesCap},
		{"metrics.top_operations", c.Metrics.TopOperations},
		{"health.max_workers", c.Health.MaxWorkers},
		{"health.history_size", c.Health.HistorySize},
	}
	for _, n := range positiveInts {
		if n.value <= 0 {
			return ErrInvalidValue(n.name, n.value, "must be positive")
		}
	}

	if c.WebUI.Enabled && (c.WebUI.Port < 0 || c.WebUI.Port > 65535) {
		return ErrInvalidValue("webui.port", c.WebUI.Port, "must be between 0 and 65535")
	}

	for name, t := range c.Health.Thresholds {
		if t.Warning > t.Critical {
			return ErrInvalidThreshold(name, t.Warning, t.Critical)
		}
	}

	for _, p := range c.Health.Providers {
		if !knownProviders[strings.ToLower(strings.TrimSpace(p))] {
			return ErrUnknownProvider(p)
		}
	}

	if strings.TrimSpace(c.ServiceName) == "" {
		return ErrMissingConfig("CREWMONITOR_SERVICE_NAME")
	}
	return nil
}

// LLMSettings returns the LLM section in the key layout expected by the
// configuration health probe.
func (c *Config) LLMSettings() map[string]any {
	return map[string]any{
		"llm_provider":    c.LLM.Provider,
		"llm_model_name":  c.LLM.ModelName,
		"llm_temperature": c.LLM.Temperature,
		"llm_max_tokens":  c.LLM.MaxTokens,
	}
}
