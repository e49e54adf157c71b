package logging

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"crewmonitor/monitor"
)

// Step texts pushed into the registry by LogLLMInteraction.
const (
	StepLLMResponseReceived = "LLM response received"
	StepLLMRequestFailed    = "LLM request failed"
)

// OperationUpdater receives terminal status for logged LLM interactions.
// *monitor.Registry satisfies it.
type OperationUpdater interface {
	UpdateOperation(id string, opts ...monitor.UpdateOption) bool
}

var _ OperationUpdater = (*monitor.Registry)(nil)

// OperationLogger is a context-carrying façade over Logger for domain
// events. Every entry carries service, environment and pid plus any
// context added with AddContext.
//
// Usage:
//
//	opLog := logging.NewOperationLogger(logger, "crewmonitor", "production")
//	opLog.SetUpdater(registry)
//	opLog.LogLLMInteraction(logging.LLMInteraction{
//	    Provider: "openai", Model: "gpt-4o", Operation: "chat",
//	    TokensUsed: 512, Duration: 1200 * time.Millisecond,
//	    Success: true, OperationID: id,
//	})
type OperationLogger struct {
	logger *Logger

	mu      sync.RWMutex
	base    map[string]string
	context map[string]string
	updater OperationUpdater
}

// NewOperationLogger creates a façade over logger. A nil logger discards
// output.
func NewOperationLogger(logger *Logger, service, environment string) *OperationLogger {
	if logger == nil {
		logger = FromZap(nil)
	}
	return &OperationLogger{
		logger: logger,
		base: map[string]string{
			"service":     service,
			"environment": environment,
			"pid":         strconv.Itoa(os.Getpid()),
		},
		context: make(map[string]string),
	}
}

// SetUpdater attaches the registry that LogLLMInteraction reports to.
// Passing nil detaches it.
func (o *OperationLogger) SetUpdater(u OperationUpdater) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updater = u
}

// AddContext adds persistent fields to every subsequent entry.
func (o *OperationLogger) AddContext(kv map[string]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range kv {
		o.context[k] = v
	}
}

// RemoveContext drops context keys. Service defaults cannot be removed.
func (o *OperationLogger) RemoveContext(keys ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, k := range keys {
		delete(o.context, k)
	}
}

// ClearContext drops every key added with AddContext.
func (o *OperationLogger) ClearContext() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.context = make(map[string]string)
}

// contextFields returns the service defaults followed by added context in
// key order, then extra.
func (o *OperationLogger) contextFields(extra []zap.Field) []zap.Field {
	o.mu.RLock()
	defer o.mu.RUnlock()

	fields := make([]zap.Field, 0, len(o.base)+len(o.context)+len(extra))
	for _, k := range []string{"service", "environment", "pid"} {
		fields = append(fields, zap.String(k, o.base[k]))
	}
	keys := make([]string, 0, len(o.context))
	for k := range o.context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, o.context[k]))
	}
	return append(fields, extra...)
}

// Debug logs at debug level with context fields.
func (o *OperationLogger) Debug(msg string, fields ...zap.Field) {
	o.logger.Debug(msg, o.contextFields(fields)...)
}

// Info logs at info level with context fields.
func (o *OperationLogger) Info(msg string, fields ...zap.Field) {
	o.logger.Info(msg, o.contextFields(fields)...)
}

// Warn logs at warn level with context fields.
func (o *OperationLogger) Warn(msg string, fields ...zap.Field) {
	o.logger.Warn(msg, o.contextFields(fields)...)
}

// Error logs at error level with context fields.
func (o *OperationLogger) Error(msg string, fields ...zap.Field) {
	o.logger.Error(msg, o.contextFields(fields)...)
}

func durationField(d time.Duration) zap.Field {
	return zap.Float64("duration_ms", float64(d)/float64(time.Millisecond))
}

// LogAgentAction records an agent action. Failures log at warn level.
func (o *OperationLogger) LogAgentAction(agentID, action string, success bool, duration time.Duration, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("operation", "agent_action"),
		zap.String("component", "agent"),
		zap.String("agent_id", agentID),
		zap.String("action", action),
		zap.Bool("success", success),
		durationField(duration),
	}, extra...)
	msg := fmt.Sprintf("Agent %s performed %s", agentID, action)
	if success {
		o.Info(msg, fields...)
		return
	}
	o.Warn(msg, fields...)
}

// LogCrewExecution records a crew run. Failures log at error level.
func (o *OperationLogger) LogCrewExecution(crewID string, success bool, duration time.Duration, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("operation", "crew_execution"),
		zap.String("component", "crew"),
		zap.String("crew_id", crewID),
		zap.Bool("success", success),
		durationField(duration),
	}, extra...)
	if success {
		o.Info(fmt.Sprintf("Crew %s execution completed", crewID), fields...)
		return
	}
	o.Error(fmt.Sprintf("Crew %s execution failed", crewID), fields...)
}

// LLMInteraction describes one provider call.
type LLMInteraction struct {
	Provider   string
	Model      string
	Operation  string
	TokensUsed int64
	Duration   time.Duration
	Success    bool
	Err        error
	// OperationID, when set, is completed or failed in the attached
	// registry.
	OperationID string
}

// LogLLMInteraction logs a provider call and, when the interaction names an
// operation and an updater is attached, moves that operation to Completed
// or Failed. Registry problems never prevent the log entry.
func (o *OperationLogger) LogLLMInteraction(in LLMInteraction) {
	fields := []zap.Field{
		zap.String("operation", "llm_interaction"),
		zap.String("component", "llm"),
		zap.String("provider", in.Provider),
		zap.String("model", in.Model),
		zap.String("llm_operation", in.Operation),
		zap.Bool("success", in.Success),
		durationField(in.Duration),
	}
	if in.TokensUsed > 0 {
		fields = append(fields, zap.Int64("tokens_used", in.TokensUsed))
	}
	if in.OperationID != "" {
		fields = append(fields, zap.String("operation_id", in.OperationID))
		o.reportLLMOutcome(in)
	}

	msg := fmt.Sprintf("LLM %s/%s %s", in.Provider, in.Model, in.Operation)
	if in.Success {
		o.Info(msg, fields...)
		return
	}
	if in.Err != nil {
		fields = append(fields, zap.Error(in.Err))
	}
	o.Error(msg, fields...)
}

func (o *OperationLogger) reportLLMOutcome(in LLMInteraction) {
	o.mu.RLock()
	updater := o.updater
	o.mu.RUnlock()
	if updater == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("operation status update panicked",
				zap.String("operation_id", in.OperationID), zap.Any("panic", r))
		}
	}()

	var ok bool
	if in.Success {
		ok = updater.UpdateOperation(in.OperationID,
			monitor.WithStatus(monitor.StatusCompleted),
			monitor.WithProgress(100),
			monitor.WithStep(StepLLMResponseReceived),
			monitor.WithTokens(in.TokensUsed),
			monitor.WithMetadataMerge(monitor.Metadata{
				"provider": monitor.String(in.Provider),
				"model":    monitor.String(in.Model),
			}),
		)
	} else {
		step := StepLLMRequestFailed
		md := monitor.Metadata{}
		if in.Err != nil {
			step = fmt.Sprintf("%s: %v", StepLLMRequestFailed, in.Err)
			md[monitor.MetaError] = monitor.String(in.Err.Error())
		}
		ok = updater.UpdateOperation(in.OperationID,
			monitor.WithStatus(monitor.StatusFailed),
			monitor.WithStep(step),
			monitor.WithMetadataMerge(md),
		)
	}
	if !ok {
		o.logger.Debug("operation not updated", zap.String("operation_id", in.OperationID))
	}
}

// LogPerformanceMetric logs a named measurement with optional tags.
func (o *OperationLogger) LogPerformanceMetric(name string, value float64, unit string, tags map[string]string) {
	fields := []zap.Field{
		zap.String("operation", "performance_metric"),
		zap.String("component", "metrics"),
		zap.String("metric_name", name),
		zap.Float64("value", value),
		zap.String("unit", unit),
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, tags[k]))
	}
	o.Info(fmt.Sprintf("Metric: %s=%g%s", name, value, unit), fields...)
}

// LogConfigurationChange records an audit entry for a config change.
func (o *OperationLogger) LogConfigurationChange(component string, oldValue, newValue any, changedBy string) {
	fields := []zap.Field{
		zap.String("operation", "config_change"),
		zap.String("component", "configuration"),
		zap.String("config_component", component),
		zap.String("old_value", fmt.Sprint(oldValue)),
		zap.String("new_value", fmt.Sprint(newValue)),
	}
	if changedBy != "" {
		fields = append(fields, zap.String("changed_by", changedBy))
	}
	o.Info(fmt.Sprintf("Configuration changed: %s", component), fields...)
}

// LogPerformance runs fn, logs its duration and outcome under operation,
// and returns fn's error.
func (o *OperationLogger) LogPerformance(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	fields := []zap.Field{
		zap.String("operation", operation),
		durationField(time.Since(start)),
		zap.Bool("success", err == nil),
	}
	if err != nil {
		o.Error(fmt.Sprintf("Operation %s failed", operation), append(fields, zap.Error(err))...)
		return err
	}
	o.Info(fmt.Sprintf("Operation %s completed", operation), fields...)
	return nil
}
