package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"

	"crewmonitor/core"
	"crewmonitor/health"
	"crewmonitor/logging"
	"crewmonitor/metrics"
	"crewmonitor/shutdown"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.WebUI.Port = 0
	cfg.Monitor.ConsoleProgress = false
	cfg.Health.CheckInterval = time.Hour
	cfg.Health.Timeout = 2 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Log.FilePath = ""
	return cfg
}

func TestComponentConfigs(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.HistorySize = 25
	cfg.Metrics.Namespace = "crew"
	cfg.Health.Thresholds = map[string]core.ThresholdConfig{"cpu_usage": {Warning: 50, Critical: 75}}
	cfg.WebUI.Host = "0.0.0.0"

	if mc := monitorConfig(cfg); mc.HistorySize != 25 || mc.UpdateInterval != cfg.Monitor.UpdateInterval {
		t.Errorf("monitorConfig() = %+v", mc)
	}
	if mc := metricsConfig(cfg); mc.Namespace != "crew" || mc.Retention != cfg.Metrics.Retention {
		t.Errorf("metricsConfig() = %+v", mc)
	}

	hc := healthConfig(cfg)
	if th := hc.Thresholds["cpu_usage"]; th.Warning != 50 || th.Critical != 75 {
		t.Errorf("cpu threshold = %+v", th)
	}
	if _, ok := hc.Thresholds["memory_usage"]; !ok {
		t.Error("thresholds absent from config should keep their defaults")
	}

	opts := health.RunOptions{Providers: []string{"ollama"}}
	sc := serverConfig(cfg, opts)
	if sc.Host != "0.0.0.0" || sc.Port != 0 || !slices.Equal(sc.HealthOptions.Providers, opts.Providers) {
		t.Errorf("serverConfig() = %+v", sc)
	}
}

func TestApp_RunServesAndShutsDown(t *testing.T) {
	var out bytes.Buffer
	logger := logging.FromZap(zaptest.NewLogger(t))
	app, err := NewApp(testConfig(), logger, &out)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	mgr := shutdown.NewManager(logger.Zap())

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.Run(mgr)
	}()

	addr := waitForListener(t, app)
	resp, err := http.Get("http://" + addr + "/api/operations")
	if err != nil {
		t.Fatalf("GET /api/operations: %v", err)
	}
	var body struct {
		Count int `json:"count"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("operations response = %d, %v", resp.StatusCode, err)
	}

	mgr.Trigger(nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown was triggered")
	}
	if err := mgr.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	want := []string{"webui", "monitor", "metrics", "logger"}
	if got := mgr.Steps(); !slices.Equal(got, want) {
		t.Errorf("shutdown steps = %v, want %v", got, want)
	}
	if !app.Registry().Closed() {
		t.Error("registry should be shut down")
	}
	startup := app.Collector().Series("startup_health_check", metrics.Timer, time.Time{})
	if len(startup) != 1 || startup[0].Tags["overall_status"] == "" || startup[0].Unit != "ms" {
		t.Errorf("startup health check points = %+v", startup)
	}
	if !strings.Contains(out.String(), "System Health") {
		t.Errorf("startup report missing from output: %q", out.String())
	}
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still serving after shutdown")
	}
}

func waitForListener(t *testing.T, app *App) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if addr := app.Server().Addr(); !strings.HasSuffix(addr, ":0") {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return ""
}

func TestNewApp_WebUIDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.WebUI.Enabled = false
	cfg.Monitor.ConsoleProgress = true

	app, err := NewApp(cfg, logging.FromZap(zaptest.NewLogger(t)), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if app.Server() != nil {
		t.Error("server should not be created when disabled")
	}
	if app.console == nil {
		t.Error("console renderer should be created when enabled")
	}
}

func TestRunDemo(t *testing.T) {
	cfg := testConfig()
	cfg.WebUI.Enabled = false
	cfg.Monitor.RemovalDelay = time.Hour
	app, err := NewApp(cfg, logging.FromZap(zaptest.NewLogger(t)), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}

	err = RunDemo(context.Background(), app, DemoConfig{
		StepDelay: time.Millisecond,
		Rounds:    2,
		FailEvery: 2,
	})
	if err != nil {
		t.Fatalf("RunDemo() error = %v", err)
	}

	crew := app.Collector().CrewStats()
	if crew.TotalExecutions != 2 || crew.SuccessCount != 2 {
		t.Errorf("crew stats = %+v", crew)
	}
	agents := app.Collector().AgentStats()
	if len(agents) != len(demoAgents) {
		t.Errorf("agent stats = %v", agents)
	}
	var failures int64
	for _, a := range agents {
		failures += a.ErrorCount
	}
	if failures != 3 {
		t.Errorf("agent failures = %d, want 3 of 6 tasks", failures)
	}
	if len(app.Collector().LLMUsageStats()) != 1 {
		t.Errorf("llm usage = %v", app.Collector().LLMUsageStats())
	}

	crews := 0
	for id, op := range app.Registry().GetActiveOperations() {
		if !op.Status.IsTerminal() {
			t.Errorf("operation %s left in %s", id, op.Status)
		}
		if op.Type != "crew_execution" {
			continue
		}
		crews++
		if n, ok := op.Metadata["agents"].Num(); !ok || int(n) != len(demoAgents) {
			t.Errorf("crew %s agents metadata = %v", id, op.Metadata["agents"])
		}
	}
	if crews != 2 {
		t.Errorf("crew operations = %d, want 2", crews)
	}
}

func TestRunDemo_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.WebUI.Enabled = false
	app, err := NewApp(cfg, logging.FromZap(zaptest.NewLogger(t)), &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = RunDemo(ctx, app, DemoConfig{StepDelay: 5 * time.Millisecond})
	if err == nil {
		t.Fatal("RunDemo() should stop with the context error")
	}
}

func TestRun_ConfigErrorExitCode(t *testing.T) {
	t.Setenv(core.ConfigFileEnvVar, "")
	t.Setenv("CREWMONITOR_HEALTH_PROVIDERS", "cohere")

	if code := run(runOptions{out: &bytes.Buffer{}}); code != core.ExitCodeConfig {
		t.Errorf("run() = %d, want %d", code, core.ExitCodeConfig)
	}
}

func TestLogExit(t *testing.T) {
	tests := []struct {
		code      int
		wantLevel zapcore.Level
		wantMsg   string
		reason    string
	}{
		{core.ExitCodeSuccess, zapcore.InfoLevel, "crewmonitor stopped", "success"},
		{core.ExitCodeSIGINT, zapcore.InfoLevel, "crewmonitor stopped by signal", "interrupted (SIGINT)"},
		{core.ExitCodeSIGTERM, zapcore.InfoLevel, "crewmonitor stopped by signal", "terminated (SIGTERM)"},
		{core.ExitCodeError, zapcore.WarnLevel, "crewmonitor stopped with errors", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			obs, logs := observer.New(zapcore.DebugLevel)
			logExit(zap.New(obs), tt.code)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("got %d log entries, want 1", len(entries))
			}
			e := entries[0]
			if e.Level != tt.wantLevel || e.Message != tt.wantMsg {
				t.Errorf("entry = %s %q, want %s %q", e.Level, e.Message, tt.wantLevel, tt.wantMsg)
			}
			fields := e.ContextMap()
			if fields["reason"] != tt.reason || fields["exit_code"] != int64(tt.code) {
				t.Errorf("fields = %v", fields)
			}
		})
	}
}
