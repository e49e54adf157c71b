package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crewmonitor/monitor"
)

func newObservedOperationLogger(t *testing.T) (*OperationLogger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewOperationLogger(FromZap(zap.New(core)), "crewmonitor", "testing"), logs
}

func newTestRegistry(t *testing.T) *monitor.Registry {
	t.Helper()
	cfg := monitor.DefaultConfig()
	cfg.UpdateInterval = time.Hour
	cfg.RemovalDelay = time.Hour
	reg := monitor.New(cfg)
	t.Cleanup(reg.Shutdown)
	return reg
}

func TestOperationLogger_ContextFields(t *testing.T) {
	opLog, logs := newObservedOperationLogger(t)
	opLog.AddContext(map[string]string{"user_id": "u1", "request_id": "r1"})
	opLog.Info("hello")

	fields := logs.All()[0].ContextMap()
	for key, want := range map[string]string{"service": "crewmonitor", "environment": "testing", "user_id": "u1", "request_id": "r1"} {
		if fields[key] != want {
			t.Errorf("field %s = %v, want %s", key, fields[key], want)
		}
	}
	if fields["pid"] == "" {
		t.Error("pid missing")
	}

	opLog.RemoveContext("user_id")
	opLog.Info("after remove")
	if _, ok := logs.All()[1].ContextMap()["user_id"]; ok {
		t.Error("user_id still present after RemoveContext")
	}

	opLog.ClearContext()
	opLog.Info("after clear")
	fields = logs.All()[2].ContextMap()
	if _, ok := fields["request_id"]; ok {
		t.Error("request_id still present after ClearContext")
	}
	if fields["service"] != "crewmonitor" {
		t.Error("ClearContext removed service defaults")
	}
}

func TestOperationLogger_DomainHelpers(t *testing.T) {
	opLog, logs := newObservedOperationLogger(t)

	opLog.LogAgentAction("researcher", "search", false, 250*time.Millisecond)
	opLog.LogCrewExecution("crew-1", true, time.Second, zap.Int("agents_count", 3))
	opLog.LogPerformanceMetric("latency", 12.5, "ms", map[string]string{"region": "eu"})
	opLog.LogConfigurationChange("llm_model_name", "gpt-4o", "gpt-4o-mini", "admin")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	tests := []struct {
		level   zapcore.Level
		message string
		key     string
		want    any
	}{
		{zapcore.WarnLevel, "Agent researcher performed search", "duration_ms", 250.0},
		{zapcore.InfoLevel, "Crew crew-1 execution completed", "agents_count", int64(3)},
		{zapcore.InfoLevel, "Metric: latency=12.5ms", "region", "eu"},
		{zapcore.InfoLevel, "Configuration changed: llm_model_name", "new_value", "gpt-4o-mini"},
	}
	for i, tt := range tests {
		e := entries[i]
		if e.Level != tt.level || e.Message != tt.message {
			t.Errorf("entry %d = %v %q, want %v %q", i, e.Level, e.Message, tt.level, tt.message)
		}
		if got := e.ContextMap()[tt.key]; got != tt.want {
			t.Errorf("entry %d field %s = %v (%T), want %v", i, tt.key, got, got, tt.want)
		}
	}
}

func TestOperationLogger_LLMInteractionCompletesOperation(t *testing.T) {
	opLog, logs := newObservedOperationLogger(t)
	reg := newTestRegistry(t)
	opLog.SetUpdater(reg)

	if _, err := reg.StartOperation("op-ok", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	opLog.LogLLMInteraction(LLMInteraction{
		Provider: "openai", Model: "gpt-4o", Operation: "chat",
		TokensUsed: 120, Duration: 800 * time.Millisecond,
		Success: true, OperationID: "op-ok",
	})

	op, ok := reg.GetOperationStatus("op-ok")
	if !ok {
		t.Fatal("operation vanished")
	}
	if op.Status != monitor.StatusCompleted || op.TokensProcessed != 120 || op.CurrentStep != StepLLMResponseReceived {
		t.Errorf("operation = %+v", op)
	}
	if v, _ := op.Metadata["provider"].Str(); v != "openai" {
		t.Errorf("provider metadata = %q", v)
	}
	if entry := logs.All()[0]; entry.Level != zapcore.InfoLevel || entry.ContextMap()["tokens_used"] != int64(120) {
		t.Errorf("log entry = %v %v", entry.Level, entry.ContextMap())
	}

	if _, err := reg.StartOperation("op-bad", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	opLog.LogLLMInteraction(LLMInteraction{
		Provider: "openai", Model: "gpt-4o", Operation: "chat",
		Err: errors.New("rate limited"), OperationID: "op-bad",
	})
	op, _ = reg.GetOperationStatus("op-bad")
	if op.Status != monitor.StatusFailed || op.CurrentStep != "LLM request failed: rate limited" {
		t.Errorf("failed operation = %+v", op)
	}
	if v, _ := op.Metadata[monitor.MetaError].Str(); v != "rate limited" {
		t.Errorf("error metadata = %q", v)
	}
}

type panickingUpdater struct{}

func (panickingUpdater) UpdateOperation(string, ...monitor.UpdateOption) bool {
	panic("registry exploded")
}

func TestOperationLogger_UpdaterFailureStillLogs(t *testing.T) {
	opLog, logs := newObservedOperationLogger(t)
	opLog.SetUpdater(panickingUpdater{})

	opLog.LogLLMInteraction(LLMInteraction{Provider: "ollama", Model: "llama3", Operation: "chat", Success: true, OperationID: "x"})

	if n := logs.FilterMessage("LLM ollama/llama3 chat").Len(); n != 1 {
		t.Errorf("interaction entries = %d, want 1", n)
	}
	if n := logs.FilterMessage("operation status update panicked").Len(); n != 1 {
		t.Errorf("panic entries = %d, want 1", n)
	}

	// Unknown ids are reported at debug level only.
	opLog.SetUpdater(newTestRegistry(t))
	opLog.LogLLMInteraction(LLMInteraction{Provider: "ollama", Model: "llama3", Operation: "chat", Success: true, OperationID: "missing"})
	if n := logs.FilterMessage("operation not updated").Len(); n != 1 {
		t.Errorf("not-updated entries = %d, want 1", n)
	}
}

func TestOperationLogger_LogPerformance(t *testing.T) {
	opLog, logs := newObservedOperationLogger(t)

	if err := opLog.LogPerformance("index", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := opLog.LogPerformance("index", func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("LogPerformance() error = %v, want boom", err)
	}

	entries := logs.All()
	if entries[0].Message != "Operation index completed" || entries[0].ContextMap()["success"] != true {
		t.Errorf("success entry = %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].Message != "Operation index failed" {
		t.Errorf("failure entry = %v %q", entries[1].Level, entries[1].Message)
	}
}
