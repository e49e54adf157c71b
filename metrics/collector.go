package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Default collector settings.
const (
	DefaultRetention     = 24 * time.Hour
	DefaultMaxDataPoints = 10000
	DefaultSeriesCap     = 1000
	DefaultTopOperations = 10
	DefaultNamespace     = "crewmonitor"
)

// Config configures a Collector. Zero values fall back to defaults.
type Config struct {
	// Retention is how long raw points are kept by Cleanup.
	Retention time.Duration
	// MaxDataPoints bounds the global point buffer.
	MaxDataPoints int
	// SeriesCap bounds each per-name series.
	SeriesCap int
	// TopOperations is how many operations the dashboard ranks.
	TopOperations int
	// Namespace prefixes exported metric names.
	Namespace string
}

// DefaultConfig returns a Config with default values.
// This is a pure function with no side effects.
func DefaultConfig() Config {
	return Config{
		Retention:     DefaultRetention,
		MaxDataPoints: DefaultMaxDataPoints,
		SeriesCap:     DefaultSeriesCap,
		TopOperations: DefaultTopOperations,
		Namespace:     DefaultNamespace,
	}
}

func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxDataPoints <= 0 {
		cfg.MaxDataPoints = def.MaxDataPoints
	}
	if cfg.SeriesCap <= 0 {
		cfg.SeriesCap = def.SeriesCap
	}
	if cfg.TopOperations <= 0 {
		cfg.TopOperations = def.TopOperations
	}
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	return cfg
}

// Recorder is the write side of the collector, consumed by code that
// reports finished work.
type Recorder interface {
	TrackOperationStart(operation string) string
	TrackOperationEnd(operation, trackingID string, durationMs float64, success bool, errorType string)
	TrackLLMUsage(usage LLMUsage)
	TrackAgentPerformance(task AgentTask)
	TrackCrewExecution(crew CrewExecution)
	TrackSystemMetric(name string, value float64, unit string)
	IncrementCounter(name string, delta float64)
	SetGauge(name string, value float64)
}

// Ensure Collector implements Recorder at compile time.
var _ Recorder = (*Collector)(nil)

// Collector owns the raw point buffer, per-name series, and the
// incremental aggregates. Every mutation updates the points and the
// aggregates inside one critical section.
//
// Usage:
//
//	c := metrics.NewCollector(metrics.DefaultConfig(), metrics.WithLogger(logger))
//	id := c.TrackOperationStart("summarize")
//	c.TrackOperationEnd("summarize", id, 812, true, "")
//	dash := c.Dashboard()
type Collector struct {
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	startTime time.Time
	prom      *promMetrics
	registry  *prometheus.Registry

	mu            sync.RWMutex
	points        *RingBuffer[MetricPoint]
	series        map[string]*RingBuffer[MetricPoint]
	operations    map[string]*PerformanceStats
	llm           map[string]*LLMUsageStats
	agents        map[string]*AgentStats
	crew          CrewStats
	counters      map[string]float64
	gauges        map[string]float64
	errorPatterns map[string]int64
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the collector's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector(cfg Config, opts ...Option) *Collector {
	cfg = applyDefaults(cfg)
	c := &Collector{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()
	c.resetLocked()

	c.registry = prometheus.NewRegistry()
	c.prom = newPromMetrics(cfg.Namespace)
	c.registry.MustRegister(c.prom.collectors()...)
	c.registry.MustRegister(&snapshotCollector{c: c, ns: cfg.Namespace})
	return c
}

func (c *Collector) resetLocked() {
	c.points = NewRingBuffer[MetricPoint](c.cfg.MaxDataPoints)
	c.series = make(map[string]*RingBuffer[MetricPoint])
	c.operations = make(map[string]*PerformanceStats)
	c.llm = make(map[string]*LLMUsageStats)
	c.agents = make(map[string]*AgentStats)
	c.crew = CrewStats{}
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.errorPatterns = make(map[string]int64)
}

// Registry returns the Prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// recordLocked appends a point to the global buffer and its series.
func (c *Collector) recordLocked(name string, value float64, typ MetricType, tags map[string]string, unit string, at time.Time) {
	p := MetricPoint{Name: name, Value: value, Type: typ, Timestamp: at, Tags: tags, Unit: unit}
	c.points.Push(p)
	key := seriesKey(name, typ)
	s, ok := c.series[key]
	if !ok {
		s = NewRingBuffer[MetricPoint](c.cfg.SeriesCap)
		c.series[key] = s
	}
	s.Push(p)
}

func seriesKey(name string, typ MetricType) string {
	return name + "_" + typ.String()
}

func (c *Collector) incrementLocked(name string, delta float64, at time.Time) {
	c.counters[name] += delta
	c.recordLocked(name, c.counters[name], Counter, nil, "", at)
}

// RecordMetric stores an arbitrary point.
func (c *Collector) RecordMetric(name string, value float64, typ MetricType, tags map[string]string, unit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(name, value, typ, copyTags(tags), unit, c.now())
}

// IncrementCounter adds delta to a named counter and records the new total.
func (c *Collector) IncrementCounter(name string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incrementLocked(name, delta, c.now())
}

// SetGauge sets a named gauge and records the value.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
	c.recordLocked(name, value, Gauge, nil, "", c.now())
}

// TrackOperationStart records the start of an operation and returns the
// tracking id to pass to TrackOperationEnd.
func (c *Collector) TrackOperationStart(operation string) string {
	trackingID := fmt.Sprintf("%s_%s", operation, uuid.NewString())

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordLocked("operation_started", 1, Counter,
		map[string]string{"operation": operation, "tracking_id": trackingID}, "", now)
	c.incrementLocked("operations_started_"+operation, 1, now)
	c.prom.operationsStarted.WithLabelValues(operation).Inc()
	return trackingID
}

// TrackOperationEnd records the outcome of an operation started with
// TrackOperationStart. errorType is only used when success is false;
// an empty value is recorded as "unknown".
func (c *Collector) TrackOperationEnd(operation, trackingID string, durationMs float64, success bool, errorType string) {
	if durationMs < 0 {
		durationMs = 0
	}
	if !success && errorType == "" {
		errorType = "unknown"
	}
	tags := map[string]string{
		"operation":   operation,
		"tracking_id": trackingID,
		"success":     strconv.FormatBool(success),
	}
	if !success {
		tags["error_type"] = errorType
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordLocked("operation_duration", durationMs, Timer, tags, "ms", now)

	stats, ok := c.operations[operation]
	if !ok {
		stats = &PerformanceStats{OperationName: operation}
		c.operations[operation] = stats
	}
	stats.record(durationMs, success, now)

	outcome := "success"
	if success {
		c.incrementLocked("operations_succeeded_"+operation, 1, now)
	} else {
		outcome = "failure"
		c.errorPatterns[operation+"_"+errorType]++
		c.incrementLocked("operations_failed_"+operation, 1, now)
	}
	c.prom.operationDuration.WithLabelValues(operation, outcome).Observe(durationMs / 1000)
}

// Track runs fn and records it as one operation execution. The error
// type is the dynamic type of the returned error.
func (c *Collector) Track(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	trackingID := c.TrackOperationStart(operation)
	start := time.Now()
	err := fn(ctx)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)
	errorType := ""
	if err != nil {
		errorType = fmt.Sprintf("%T", err)
	}
	c.TrackOperationEnd(operation, trackingID, durationMs, err == nil, errorType)
	return err
}

// TrackLLMUsage records one LLM call. A cost point is only recorded when
// the cost is positive.
func (c *Collector) TrackLLMUsage(u LLMUsage) {
	if u.Tokens < 0 {
		u.Tokens = 0
	}
	errType := u.ErrorType
	if errType == "" {
		errType = "none"
	}
	tags := map[string]string{
		"provider":   u.Provider,
		"model":      u.Model,
		"operation":  u.Operation,
		"success":    strconv.FormatBool(u.Success),
		"error_type": errType,
	}
	if u.OperationID != "" {
		tags["operation_id"] = u.OperationID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordLocked("llm_tokens_used", float64(u.Tokens), Counter, tags, "tokens", now)
	c.recordLocked("llm_request_duration", u.DurationMs, Timer, tags, "ms", now)
	if u.Cost > 0 {
		c.recordLocked("llm_cost", u.Cost, Counter, tags, "usd", now)
		c.prom.llmCost.WithLabelValues(u.Provider, u.Model).Add(u.Cost)
	}

	key := u.Provider + "_" + u.Model
	stats, ok := c.llm[key]
	if !ok {
		stats = &LLMUsageStats{Provider: u.Provider, Model: u.Model}
		c.llm[key] = stats
	}
	stats.record(u, now)

	c.prom.llmTokens.WithLabelValues(u.Provider, u.Model).Add(float64(u.Tokens))
	c.prom.llmRequests.WithLabelValues(u.Provider, u.Model, strconv.FormatBool(u.Success)).Inc()
}

// TrackAgentPerformance records one agent task.
func (c *Collector) TrackAgentPerformance(t AgentTask) {
	if t.Tokens < 0 {
		t.Tokens = 0
	}
	tags := map[string]string{
		"agent_id":  t.AgentID,
		"role":      t.Role,
		"task_type": t.TaskType,
		"success":   strconv.FormatBool(t.Success),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordLocked("agent_task_duration", t.DurationMs, Timer, tags, "ms", now)
	c.recordLocked("agent_tokens_used", float64(t.Tokens), Counter, tags, "tokens", now)
	if t.QualityScore != nil {
		c.recordLocked("agent_quality_score", *t.QualityScore, Gauge, tags, "", now)
	}

	stats, ok := c.agents[t.Role]
	if !ok {
		stats = &AgentStats{Role: t.Role}
		c.agents[t.Role] = stats
	}
	stats.record(t)

	c.incrementLocked("agent_tasks_"+t.Role, 1, now)
	if t.Success {
		c.incrementLocked("agent_tasks_succeeded_"+t.Role, 1, now)
	} else {
		c.incrementLocked("agent_tasks_failed_"+t.Role, 1, now)
	}
}

// TrackCrewExecution records one crew run.
func (c *Collector) TrackCrewExecution(crew CrewExecution) {
	tags := map[string]string{
		"crew_id": crew.CrewID,
		"success": strconv.FormatBool(crew.Success),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordLocked("crew_execution_duration", crew.DurationMs, Timer, tags, "ms", now)
	c.recordLocked("crew_agents_count", float64(crew.AgentsCount), Gauge, tags, "", now)
	c.recordLocked("crew_tasks_count", float64(crew.TasksCount), Gauge, tags, "", now)
	c.recordLocked("crew_result_length", float64(crew.ResultLength), Gauge, tags, "chars", now)

	c.crew.record(crew)

	c.incrementLocked("crew_executions_total", 1, now)
	if crew.Success {
		c.incrementLocked("crew_executions_succeeded", 1, now)
	} else {
		c.incrementLocked("crew_executions_failed", 1, now)
	}
}

// TrackSystemMetric records a host-level reading as the gauge
// "system_<name>".
func (c *Collector) TrackSystemMetric(name string, value float64, unit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "system_" + name
	c.gauges[key] = value
	c.recordLocked(key, value, Gauge, map[string]string{"metric_type": "system"}, unit, c.now())
}

// Cleanup drops points older than the retention window from the global
// buffer and every series, removing series that become empty. It returns
// the number of points dropped from the global buffer.
func (c *Collector) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.Retention)
	expired := func(p MetricPoint) bool { return p.Timestamp.Before(cutoff) }

	dropped := c.points.PruneWhile(expired)
	for key, s := range c.series {
		s.PruneWhile(expired)
		if s.Len() == 0 {
			delete(c.series, key)
		}
	}
	if dropped > 0 {
		c.logger.Debug("pruned expired metric points",
			zap.Int("dropped", dropped),
			zap.Duration("retention", c.cfg.Retention))
	}
	return dropped
}

// RunCleanup calls Cleanup every interval until ctx is done.
// This method blocks, so it should typically be run in a goroutine.
func (c *Collector) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Reset clears every point, series and aggregate. Prometheus vectors keep
// their cumulative values.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.startTime = c.now()
	c.logger.Info("metrics reset")
}

// PerformanceStats returns a copy of one operation's aggregate.
func (c *Collector) PerformanceStats(operation string) (PerformanceStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.operations[operation]
	if !ok {
		return PerformanceStats{}, false
	}
	return *s, true
}

// AllPerformanceStats returns copies of every operation aggregate.
func (c *Collector) AllPerformanceStats() map[string]PerformanceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]PerformanceStats, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// LLMUsageStats returns copies of the per provider/model aggregates keyed
// by "provider_model".
func (c *Collector) LLMUsageStats() map[string]LLMUsageStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]LLMUsageStats, len(c.llm))
	for k, v := range c.llm {
		out[k] = *v
	}
	return out
}

// AgentStats returns copies of the per-role agent aggregates.
func (c *Collector) AgentStats() map[string]AgentStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]AgentStats, len(c.agents))
	for k, v := range c.agents {
		out[k] = *v
	}
	return out
}

// CrewStats returns a copy of the crew aggregate.
func (c *Collector) CrewStats() CrewStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crew
}

// Counters returns a copy of the counter map.
func (c *Collector) Counters() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyFloatMap(c.counters)
}

// Gauges returns a copy of the gauge map.
func (c *Collector) Gauges() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyFloatMap(c.gauges)
}

// ErrorPatterns returns failure counts keyed by "operation_errortype".
func (c *Collector) ErrorPatterns() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.errorPatterns))
	for k, v := range c.errorPatterns {
		out[k] = v
	}
	return out
}

// PointCount returns the number of points in the global buffer.
func (c *Collector) PointCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.points.Len()
}

// Series returns the points recorded for name and type at or after since,
// oldest first. A zero since returns the whole series.
func (c *Collector) Series(name string, typ MetricType, since time.Time) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[seriesKey(name, typ)]
	if !ok {
		return nil
	}
	var out []MetricPoint
	for _, p := range s.All() {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

// RecentPoints returns up to n of the newest points, oldest first.
func (c *Collector) RecentPoints(n int) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.points.Last(n)
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
