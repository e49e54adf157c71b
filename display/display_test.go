package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"crewmonitor/monitor"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func ptr(v float64) *float64 { return &v }

func TestFormatETA(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want string
	}{
		{"unknown", nil, ETAUnknown},
		{"seconds", ptr(12.34), "12.3s"},
		{"negative clamps", ptr(-3), "0.0s"},
		{"minutes", ptr(150), "2m 30s"},
		{"hours", ptr(3900), "1h 5m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatETA(tt.in); got != tt.want {
				t.Errorf("FormatETA() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{2*time.Minute + 30*time.Second, "2m 30s"},
		{2*time.Hour + 34*time.Minute, "2h 34m"},
		{3*24*time.Hour + 5*time.Hour, "3d 5h"},
		{-5 * time.Minute, "-5m 0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConsoleRenderer_Render(t *testing.T) {
	withoutColor(t)
	r := NewConsoleRenderer(&bytes.Buffer{})

	line := r.Render(monitor.ProgressUpdate{
		Status:             monitor.StatusProcessing,
		Progress:           50,
		CurrentStep:        "Executing...",
		EstimatedRemaining: ptr(12.5),
		TokensProcessed:    1024,
		TokensPerSecond:    48.25,
	})
	want := "⚙️ [" + strings.Repeat("█", 15) + strings.Repeat("░", 15) + "]  50.0% | Executing... | ETA: 12.5s | 1,024 tok @ 48.2 tok/s"
	if line != want {
		t.Errorf("Render() =\n%q\nwant\n%q", line, want)
	}

	line = r.Render(monitor.ProgressUpdate{Status: monitor.StatusQueued, CurrentStep: "Initializing..."})
	if !strings.Contains(line, "ETA: unknown") || strings.Contains(line, "tok/s") {
		t.Errorf("queued line = %q", line)
	}

	line = r.Render(monitor.ProgressUpdate{Status: monitor.StatusCompleted, Progress: 150})
	if !strings.Contains(line, strings.Repeat("█", DefaultBarWidth)+"]") || strings.Contains(line, "ETA") {
		t.Errorf("completed line = %q", line)
	}
}

func TestConsoleRenderer_OnProgress(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	r := NewConsoleRenderer(&buf)

	r.OnProgress(monitor.ProgressUpdate{Status: monitor.StatusProcessing, Progress: 10})
	if strings.Contains(buf.String(), "\n") || !strings.HasPrefix(buf.String(), "\r") {
		t.Errorf("non-terminal output = %q", buf.String())
	}

	r.OnProgress(monitor.ProgressUpdate{Status: monitor.StatusFailed, Progress: 100})
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("terminal update should end the line: %q", buf.String())
	}

	buf.Reset()
	r.Disable()
	r.OnProgress(monitor.ProgressUpdate{Status: monitor.StatusProcessing})
	if buf.Len() != 0 || r.Enabled() {
		t.Errorf("disabled renderer wrote %q", buf.String())
	}
	r.Enable()
	r.OnProgress(monitor.ProgressUpdate{Status: monitor.StatusProcessing})
	if buf.Len() == 0 {
		t.Error("re-enabled renderer wrote nothing")
	}
}

func TestConsoleRenderer_AsRegistrySink(t *testing.T) {
	withoutColor(t)
	cfg := monitor.DefaultConfig()
	cfg.UpdateInterval = time.Hour
	cfg.RemovalDelay = time.Hour
	reg := monitor.New(cfg)
	defer reg.Shutdown()

	var buf bytes.Buffer
	reg.Subscribe(NewConsoleRenderer(&buf))

	if _, err := reg.StartOperation("op-1", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.UpdateOperation("op-1", monitor.WithStatus(monitor.StatusProcessing), monitor.WithProgress(40), monitor.WithStep("Thinking"))
	reg.CompleteOperation("op-1", true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := reg.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Count(out, "\r") != 3 || !strings.HasSuffix(out, "\n") {
		t.Errorf("rendered output = %q", out)
	}
	if !strings.Contains(out, "Thinking") || !strings.Contains(out, "✅") {
		t.Errorf("rendered output missing step or glyph: %q", out)
	}
}

type fakeSource struct {
	ops map[string]monitor.LiveOperation
}

func (f fakeSource) GetOperationStatus(id string) (monitor.LiveOperation, bool) {
	op, ok := f.ops[id]
	return op, ok
}

func (f fakeSource) GetActiveOperations() map[string]monitor.LiveOperation {
	return f.ops
}

func TestOperationJSON(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	src := fakeSource{ops: map[string]monitor.LiveOperation{
		"known": {
			ID: "known", Type: "llm_chat", Status: monitor.StatusProcessing,
			ProgressPercent: 50, StartTime: start, EstimatedDuration: ptr(20),
			Metadata: monitor.Metadata{"model": monitor.String("gpt-4o")},
		},
		"fresh": {ID: "fresh", Type: "llm_chat", Status: monitor.StatusQueued, StartTime: start},
	}}

	data, err := OperationJSON(src, "known")
	if err != nil {
		t.Fatal(err)
	}
	var known map[string]any
	if err := json.Unmarshal(data, &known); err != nil {
		t.Fatal(err)
	}
	if known["status"] != "processing" || known["metadata"].(map[string]any)["model"] != "gpt-4o" {
		t.Errorf("snapshot = %v", known)
	}
	if eta, ok := known["estimated_remaining_seconds"].(float64); !ok || eta < 9 || eta > 11 {
		t.Errorf("estimated_remaining_seconds = %v, want about 10", known["estimated_remaining_seconds"])
	}

	data, err = OperationJSON(src, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	var fresh map[string]any
	if err := json.Unmarshal(data, &fresh); err != nil {
		t.Fatal(err)
	}
	if v, present := fresh["estimated_remaining_seconds"]; !present || v != nil {
		t.Errorf("unknown ETA should be null, got %v (present=%v)", v, present)
	}
	if fresh["eta"] != ETAUnknown {
		t.Errorf("eta = %v, want unknown", fresh["eta"])
	}

	if _, err := OperationJSON(src, "missing"); !errors.Is(err, monitor.ErrOperationNotFound) {
		t.Errorf("missing id error = %v", err)
	}

	all, err := OperationsJSON(src)
	if err != nil {
		t.Fatal(err)
	}
	var byID map[string]OperationSnapshot
	if err := json.Unmarshal(all, &byID); err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 || byID["known"].OperationType != "llm_chat" {
		t.Errorf("OperationsJSON = %v", byID)
	}

	empty, _ := OperationsJSON(fakeSource{})
	if strings.TrimSpace(string(empty)) != "{}" {
		t.Errorf("empty OperationsJSON = %s", empty)
	}
}
