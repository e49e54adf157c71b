package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crewmonitor/metrics"
)

// Check names produced by the built-in probes. Provider connectivity
// checks are named "llm_connectivity_<provider>".
const (
	NameSystemResources     = "system_resources"
	NameConfiguration       = "configuration_validity"
	NameAgentResponsiveness = "agent_responsiveness"
	connectivityPrefix      = "llm_connectivity_"
)

// Default checker settings.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultMaxWorkers        = 5
	DefaultHistorySize       = 1000
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultAnthropicURL      = "https://api.anthropic.com/v1/models"
	DefaultAnthropicVersion  = "2023-06-01"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultCPUSampleInterval = time.Second
)

// Config configures a Checker. Zero values fall back to defaults.
type Config struct {
	// Timeout bounds each individual probe.
	Timeout time.Duration
	// MaxWorkers bounds how many probes RunAll executes at once.
	MaxWorkers int
	// HistorySize caps the retained check history.
	HistorySize int
	// Thresholds overrides entries of DefaultThresholds.
	Thresholds map[string]Threshold

	OpenAIBaseURL    string
	AnthropicURL     string
	AnthropicVersion string
	OllamaURL        string

	// DiskPath is the filesystem reported by the resource probe.
	DiskPath          string
	CPUSampleInterval time.Duration
}

// DefaultConfig returns a Config with default values.
// This is a pure function with no side effects.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		MaxWorkers:        DefaultMaxWorkers,
		HistorySize:       DefaultHistorySize,
		Thresholds:        DefaultThresholds(),
		OpenAIBaseURL:     DefaultOpenAIBaseURL,
		AnthropicURL:      DefaultAnthropicURL,
		AnthropicVersion:  DefaultAnthropicVersion,
		OllamaURL:         DefaultOllamaURL,
		DiskPath:          "/",
		CPUSampleInterval: DefaultCPUSampleInterval,
	}
}

func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	thresholds := DefaultThresholds()
	for name, t := range cfg.Thresholds {
		thresholds[name] = t
	}
	cfg.Thresholds = thresholds
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = def.OpenAIBaseURL
	}
	if cfg.AnthropicURL == "" {
		cfg.AnthropicURL = def.AnthropicURL
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = def.AnthropicVersion
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = def.OllamaURL
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = def.DiskPath
	}
	if cfg.CPUSampleInterval <= 0 {
		cfg.CPUSampleInterval = def.CPUSampleInterval
	}
	return cfg
}

// SystemMetricSink receives resource readings, typically a
// *metrics.Collector.
type SystemMetricSink interface {
	TrackSystemMetric(name string, value float64, unit string)
}

// Checker runs probes and keeps their history.
//
// Usage:
//
//	checker := health.NewChecker(health.DefaultConfig(), health.WithLogger(logger))
//	results := checker.RunAll(ctx, health.RunOptions{
//	    Config:    map[string]any{"llm_provider": "openai", "llm_model_name": "gpt-4o"},
//	    Providers: []string{"openai"},
//	})
//	status := checker.SystemStatus()
type Checker struct {
	cfg           Config
	logger        *zap.Logger
	now           func() time.Time
	httpClient    *http.Client
	resources     ResourceReader
	lookupEnv     func(string) (string, bool)
	systemMetrics SystemMetricSink

	mu         sync.RWMutex
	thresholds map[string]Threshold
	history    *metrics.RingBuffer[Check]
	lastRun    time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the checker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the client used by endpoint probes.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithResourceReader replaces the gopsutil-backed reader.
func WithResourceReader(r ResourceReader) Option {
	return func(c *Checker) {
		if r != nil {
			c.resources = r
		}
	}
}

// WithEnvLookup replaces os.LookupEnv for secret checks.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(c *Checker) {
		if lookup != nil {
			c.lookupEnv = lookup
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSystemMetricSink forwards resource readings to sink.
func WithSystemMetricSink(sink SystemMetricSink) Option {
	return func(c *Checker) {
		c.systemMetrics = sink
	}
}

// NewChecker creates a Checker.
func NewChecker(cfg Config, opts ...Option) *Checker {
	cfg = applyDefaults(cfg)
	c := &Checker{
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		httpClient: &http.Client{},
		lookupEnv:  os.LookupEnv,
		thresholds: cfg.Thresholds,
		history:    metrics.NewRingBuffer[Check](cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resources == nil {
		c.resources = NewResourceReader(cfg.DiskPath, cfg.CPUSampleInterval)
	}
	return c
}

// SetThreshold replaces one named threshold.
func (c *Checker) SetThreshold(name string, t Threshold) error {
	if t.Warning > t.Critical {
		return fmt.Errorf("threshold %s: warning %.2f exceeds critical %.2f", name, t.Warning, t.Critical)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds[name] = t
	return nil
}

// Thresholds returns a copy of the current thresholds.
func (c *Checker) Thresholds() map[string]Threshold {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Threshold, len(c.thresholds))
	for k, v := range c.thresholds {
		out[k] = v
	}
	return out
}

// probe runs fn with the per-probe timeout, fills in name, timestamp and
// duration, and converts a panic into a critical result.
func (c *Checker) probe(ctx context.Context, name string, fn func(ctx context.Context) Check) (result Check) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health probe panicked", zap.String("check", name), zap.Any("panic", r))
			result = Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("Health check failed: %v", r),
				Details: map[string]any{"error": fmt.Sprint(r)},
			}
		}
		result.Name = name
		result.Timestamp = c.now()
		result.Duration = time.Since(start)
	}()
	return fn(ctx)
}

// RunOptions selects which probes RunAll executes.
type RunOptions struct {
	// Config, when non-nil, is checked by the configuration probe.
	Config map[string]any
	// Providers lists LLM providers whose connectivity is probed. API
	// keys are read from the environment.
	Providers []string
	// AgentTest, when non-nil, is timed by the responsiveness probe.
	AgentTest func(ctx context.Context) error
	// SkipSystem disables the resource probe.
	SkipSystem bool
}

// RunAll executes the probes selected by opts concurrently, appends the
// results to history, and returns them keyed by Check.Name, the same key
// SystemStatus and Trends use.
func (c *Checker) RunAll(ctx context.Context, opts RunOptions) map[string]Check {
	var jobs []func(ctx context.Context) Check
	if !opts.SkipSystem {
		jobs = append(jobs, c.CheckSystemResources)
	}
	if opts.Config != nil {
		cfg := opts.Config
		jobs = append(jobs, func(context.Context) Check { return c.CheckConfiguration(cfg) })
	}
	seen := make(map[string]bool)
	for _, p := range opts.Providers {
		provider := strings.ToLower(strings.TrimSpace(p))
		if provider == "" || seen[provider] {
			continue
		}
		seen[provider] = true
		jobs = append(jobs, func(ctx context.Context) Check {
			return c.CheckLLMConnectivity(ctx, provider, c.apiKeyFor(provider))
		})
	}
	if opts.AgentTest != nil {
		test := opts.AgentTest
		jobs = append(jobs, func(ctx context.Context) Check {
			return c.CheckAgentResponsiveness(ctx, test)
		})
	}

	results := make(map[string]Check, len(jobs))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxWorkers)
	for _, run := range jobs {
		g.Go(func() error {
			check := run(ctx)
			mu.Lock()
			results[check.Name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.mu.Lock()
	for _, k := range keys {
		c.history.Push(results[k])
	}
	c.lastRun = c.now()
	c.mu.Unlock()

	for _, k := range keys {
		check := results[k]
		if check.Status == StatusCritical || check.Status == StatusWarning {
			c.logger.Warn("health check reported a problem", zap.Object("check", check))
		} else {
			c.logger.Debug("health check passed", zap.Object("check", check))
		}
	}
	return results
}

// Record appends externally produced checks to the history.
func (c *Checker) Record(checks ...Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, check := range checks {
		c.history.Push(check)
	}
}

// History returns the retained checks, oldest first.
func (c *Checker) History() []Check {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.history.All()
}

// Run executes RunAll immediately and then every interval until ctx is
// done, logging overall status transitions. This method blocks, so it
// should typically be run in a goroutine.
func (c *Checker) Run(ctx context.Context, interval time.Duration, opts RunOptions) {
	if interval <= 0 {
		interval = time.Minute
	}
	last := StatusUnknown
	check := func() {
		c.RunAll(ctx, opts)
		status := c.SystemStatus().OverallStatus
		if status != last {
			c.logger.Info("overall health changed",
				zap.String("from", last.String()),
				zap.String("to", status.String()))
			last = status
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("health checker stopping")
			return
		case <-ticker.C:
			check()
		}
	}
}

func (c *Checker) apiKeyFor(provider string) string {
	env, ok := providerKeyEnv[provider]
	if !ok {
		return ""
	}
	v, _ := c.lookupEnv(env)
	return v
}
