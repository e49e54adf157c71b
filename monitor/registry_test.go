package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink stores every update it receives.
type recordingSink struct {
	mu      sync.Mutex
	updates []ProgressUpdate
}

func (s *recordingSink) OnProgress(u ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) all() []ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressUpdate(nil), s.updates...)
}

func (s *recordingSink) forOperation(id string) []ProgressUpdate {
	var out []ProgressUpdate
	for _, u := range s.all() {
		if u.OperationID == id {
			out = append(out, u)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UpdateInterval = time.Hour
	cfg.RemovalDelay = time.Hour
	cfg.WaitPollInterval = 5 * time.Millisecond
	return cfg
}

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) *Registry {
	t.Helper()
	reg := New(cfg, opts...)
	t.Cleanup(reg.Shutdown)
	return reg
}

func flush(t *testing.T, reg *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := reg.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestStartOperation_Defaults(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	sink := &recordingSink{}
	reg.Subscribe(sink)

	op, err := reg.StartOperation("chat-1", "llm_chat")
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if op.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", op.Status)
	}
	if op.CurrentStep != StepInitializing {
		t.Errorf("CurrentStep = %q, want %q", op.CurrentStep, StepInitializing)
	}
	if op.ProgressPercent != 0 {
		t.Errorf("ProgressPercent = %v, want 0", op.ProgressPercent)
	}
	if op.EstimatedDuration == nil || *op.EstimatedDuration != 5 {
		t.Errorf("EstimatedDuration = %v, want 5", op.EstimatedDuration)
	}

	flush(t, reg)
	if got := len(sink.forOperation("chat-1")); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestStartOperation_EstimateSources(t *testing.T) {
	reg := newTestRegistry(t, testConfig())

	t.Run("unknown type has no estimate", func(t *testing.T) {
		op, err := reg.StartOperation("x", "mystery")
		if err != nil {
			t.Fatal(err)
		}
		if op.EstimatedDuration != nil {
			t.Errorf("EstimatedDuration = %v, want nil", *op.EstimatedDuration)
		}
	})

	t.Run("caller hint wins", func(t *testing.T) {
		op, err := reg.StartOperation("y", "llm_chat", WithEstimatedDuration(42))
		if err != nil {
			t.Fatal(err)
		}
		if op.EstimatedDuration == nil || *op.EstimatedDuration != 42 {
			t.Errorf("EstimatedDuration = %v, want 42", op.EstimatedDuration)
		}
	})

	t.Run("terminal initial status rejected", func(t *testing.T) {
		if _, err := reg.StartOperation("z", "llm_chat", WithInitialStatus(StatusCompleted)); err == nil {
			t.Error("expected error for terminal initial status")
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		if _, err := reg.StartOperation("", "llm_chat"); err == nil {
			t.Error("expected error for empty id")
		}
	})
}

func TestStartOperation_DuplicateID(t *testing.T) {
	reg := newTestRegistry(t, testConfig())

	if _, err := reg.StartOperation("dup", "agent_task"); err != nil {
		t.Fatal(err)
	}
	_, err := reg.StartOperation("dup", "agent_task")
	if !errors.Is(err, ErrOperationExists) {
		t.Fatalf("second StartOperation() error = %v, want ErrOperationExists", err)
	}

	reg.CompleteOperation("dup", true, nil)
	op, err := reg.StartOperation("dup", "agent_task")
	if err != nil {
		t.Fatalf("reuse after completion error = %v", err)
	}
	if op.Status != StatusQueued {
		t.Errorf("reused Status = %s, want queued", op.Status)
	}
}

func TestUpdateOperation(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	sink := &recordingSink{}
	reg.Subscribe(sink)

	if _, err := reg.StartOperation("op", "llm_generation"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		progress float64
		want     float64
	}{
		{"in range", 42.5, 42.5},
		{"above range", 150, 100},
		{"below range", -5, 0},
		{"not a number", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reg.UpdateOperation("op", WithProgress(tt.progress)) {
				t.Fatal("UpdateOperation() = false")
			}
			op, _ := reg.GetOperationStatus("op")
			if op.ProgressPercent != tt.want {
				t.Errorf("ProgressPercent = %v, want %v", op.ProgressPercent, tt.want)
			}
		})
	}

	ok := reg.UpdateOperation("op",
		WithStatus(StatusStreaming),
		WithStep("Streaming tokens"),
		WithTokens(120),
		WithMetadataMerge(Metadata{"model": String("gpt-4o")}))
	if !ok {
		t.Fatal("UpdateOperation() = false")
	}
	op, _ := reg.GetOperationStatus("op")
	if op.Status != StatusStreaming || op.CurrentStep != "Streaming tokens" || op.TokensProcessed != 120 {
		t.Errorf("got status=%s step=%q tokens=%d", op.Status, op.CurrentStep, op.TokensProcessed)
	}
	if v, _ := op.Metadata["model"].Str(); v != "gpt-4o" {
		t.Errorf("metadata model = %q", v)
	}

	flush(t, reg)
	// start + four progress updates + one combined update
	if got := len(sink.forOperation("op")); got != 6 {
		t.Errorf("notifications = %d, want 6", got)
	}
}

func TestUpdateOperation_NoOps(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	sink := &recordingSink{}
	reg.Subscribe(sink)

	if reg.UpdateOperation("missing", WithProgress(10)) {
		t.Error("UpdateOperation(unknown) = true, want false")
	}

	if _, err := reg.StartOperation("done", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.CompleteOperation("done", true, nil)
	if reg.UpdateOperation("done", WithProgress(10)) {
		t.Error("UpdateOperation(terminal) = true, want false")
	}

	flush(t, reg)
	if got := len(sink.all()); got != 2 {
		t.Errorf("notifications = %d, want 2 (start and complete)", got)
	}
}

func TestUpdateOperation_TerminalStatusFinishes(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.UpdateOperation("op", WithStatus(StatusCompleted), WithStep("LLM response received"))

	op, _ := reg.GetOperationStatus("op")
	if op.Status != StatusCompleted || op.EndTime == nil {
		t.Fatalf("status=%s end=%v", op.Status, op.EndTime)
	}
	if op.CurrentStep != "LLM response received" {
		t.Errorf("CurrentStep = %q", op.CurrentStep)
	}
	if got := len(reg.DurationHistory("llm_chat")); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestCompleteOperation(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	if _, err := reg.StartOperation("op", "crew_execution"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(12 * time.Second)

	if !reg.CompleteOperation("op", false, Metadata{"error": String("boom")}) {
		t.Fatal("CompleteOperation() = false")
	}
	op, _ := reg.GetOperationStatus("op")
	if op.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", op.Status)
	}
	if op.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %v, want 100", op.ProgressPercent)
	}
	if op.CurrentStep != StepFailed {
		t.Errorf("CurrentStep = %q, want %q", op.CurrentStep, StepFailed)
	}
	if op.EndTime == nil {
		t.Fatal("EndTime not set")
	}
	if got := op.ElapsedSeconds(clock.Now()); got != 12 {
		t.Errorf("ElapsedSeconds = %v, want 12", got)
	}

	if reg.CompleteOperation("op", true, nil) {
		t.Error("second CompleteOperation() = true, want false")
	}
	hist := reg.DurationHistory("crew_execution")
	if len(hist) != 1 || hist[0] != 12 {
		t.Errorf("history = %v, want [12]", hist)
	}
}

func TestElapsedFrozenAfterEnd(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(3 * time.Second)
	reg.CompleteOperation("op", true, nil)
	clock.Advance(time.Minute)

	op, _ := reg.GetOperationStatus("op")
	if got := op.ElapsedSeconds(clock.Now()); got != 3 {
		t.Errorf("ElapsedSeconds after end = %v, want 3", got)
	}
}

func TestDurationHistory_BoundedMean(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("op-%d", i)
		if _, err := reg.StartOperation(id, "agent_task"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Duration(i) * time.Second)
		reg.CompleteOperation(id, true, nil)
	}

	hist := reg.DurationHistory("agent_task")
	if len(hist) != DefaultHistorySize {
		t.Fatalf("history length = %d, want %d", len(hist), DefaultHistorySize)
	}
	if hist[0] != 3 || hist[len(hist)-1] != 12 {
		t.Errorf("history = %v, want 3..12", hist)
	}
	est, ok := reg.EstimateDuration("agent_task")
	if !ok || est != 7.5 {
		t.Errorf("EstimateDuration = %v, %v; want 7.5, true", est, ok)
	}

	op, err := reg.StartOperation("next", "agent_task")
	if err != nil {
		t.Fatal(err)
	}
	if op.EstimatedDuration == nil || *op.EstimatedDuration != 7.5 {
		t.Errorf("new operation estimate = %v, want 7.5", op.EstimatedDuration)
	}
}

func TestEstimatedRemaining(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	if _, err := reg.StartOperation("known", "llm_completion"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartOperation("unknown", "mystery"); err != nil {
		t.Fatal(err)
	}

	op, _ := reg.GetOperationStatus("known")
	if _, ok := op.EstimatedRemainingSeconds(clock.Now()); ok {
		t.Error("ETA at zero progress should be unknown")
	}

	clock.Advance(10 * time.Second)
	reg.UpdateOperation("known", WithProgress(25))
	reg.UpdateOperation("unknown", WithProgress(25))

	op, _ = reg.GetOperationStatus("known")
	remaining, ok := op.EstimatedRemainingSeconds(clock.Now())
	if !ok || math.Abs(remaining-30) > 1e-9 {
		t.Errorf("remaining = %v, %v; want 30, true", remaining, ok)
	}

	op, _ = reg.GetOperationStatus("unknown")
	if _, ok := op.EstimatedRemainingSeconds(clock.Now()); ok {
		t.Error("ETA without estimated duration should be unknown")
	}

	reg.UpdateOperation("known", WithProgress(100))
	op, _ = reg.GetOperationStatus("known")
	if remaining, ok := op.EstimatedRemainingSeconds(clock.Now()); !ok || remaining != 0 {
		t.Errorf("remaining at 100%% = %v, %v; want 0, true", remaining, ok)
	}

	p, _ := reg.Progress("unknown")
	if p.EstimatedRemaining != nil {
		t.Errorf("ProgressUpdate.EstimatedRemaining = %v, want nil", *p.EstimatedRemaining)
	}
}

func TestTokensPerSecond(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Second)
	reg.UpdateOperation("op", WithTokens(200), WithTokens(-1))
	p, _ := reg.Progress("op")
	if p.TokensProcessed != 0 || p.TokensPerSecond != 0 {
		t.Errorf("negative tokens: got %d tokens %v tok/s", p.TokensProcessed, p.TokensPerSecond)
	}

	reg.UpdateOperation("op", WithTokens(200))
	p, _ = reg.Progress("op")
	if p.TokensPerSecond != 50 {
		t.Errorf("TokensPerSecond = %v, want 50", p.TokensPerSecond)
	}
}

func TestRemovalAfterGracePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.RemovalDelay = 20 * time.Millisecond
	reg := newTestRegistry(t, cfg)

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.CompleteOperation("op", true, nil)

	if _, ok := reg.GetOperationStatus("op"); !ok {
		t.Fatal("operation removed before grace period")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.GetOperationStatus("op"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("operation still present after grace period")
}

func TestRemovalSkipsReusedID(t *testing.T) {
	cfg := testConfig()
	cfg.RemovalDelay = 20 * time.Millisecond
	reg := newTestRegistry(t, cfg)

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.CompleteOperation("op", true, nil)
	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(60 * time.Millisecond)
	op, ok := reg.GetOperationStatus("op")
	if !ok {
		t.Fatal("reused operation was removed by the earlier timer")
	}
	if op.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", op.Status)
	}
}

func TestCancelOperation(t *testing.T) {
	reg := newTestRegistry(t, testConfig())

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	if !reg.CancelOperation("op") {
		t.Fatal("CancelOperation() = false")
	}
	op, _ := reg.GetOperationStatus("op")
	if op.Status != StatusCancelled || op.EndTime == nil {
		t.Errorf("status=%s end=%v", op.Status, op.EndTime)
	}
	if reg.CancelOperation("op") {
		t.Error("CancelOperation(terminal) = true")
	}
	if reg.CancelOperation("missing") {
		t.Error("CancelOperation(unknown) = true")
	}
	if got := len(reg.DurationHistory("llm_chat")); got != 0 {
		t.Errorf("cancelled operation recorded history: %d", got)
	}
}

func TestWaitForOperation(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	ctx := context.Background()

	t.Run("returns terminal snapshot", func(t *testing.T) {
		if _, err := reg.StartOperation("fast", "llm_chat"); err != nil {
			t.Fatal(err)
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			reg.CompleteOperation("fast", true, nil)
		}()
		op, err := reg.WaitForOperation(ctx, "fast", time.Second)
		if err != nil {
			t.Fatalf("WaitForOperation() error = %v", err)
		}
		if op.Status != StatusCompleted {
			t.Errorf("Status = %s, want completed", op.Status)
		}
	})

	t.Run("timeout cancels", func(t *testing.T) {
		if _, err := reg.StartOperation("slow", "llm_chat"); err != nil {
			t.Fatal(err)
		}
		op, err := reg.WaitForOperation(ctx, "slow", 30*time.Millisecond)
		if !errors.Is(err, ErrWaitTimeout) {
			t.Fatalf("error = %v, want ErrWaitTimeout", err)
		}
		if op.Status != StatusCancelled {
			t.Errorf("returned Status = %s, want cancelled", op.Status)
		}
		stored, _ := reg.GetOperationStatus("slow")
		if stored.Status != StatusCancelled || stored.EndTime == nil {
			t.Errorf("stored status=%s end=%v", stored.Status, stored.EndTime)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := reg.WaitForOperation(ctx, "missing", time.Second)
		if !errors.Is(err, ErrOperationNotFound) {
			t.Errorf("error = %v, want ErrOperationNotFound", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		if _, err := reg.StartOperation("ctx", "llm_chat"); err != nil {
			t.Fatal(err)
		}
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := reg.WaitForOperation(cctx, "ctx", 0)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want context.DeadlineExceeded", err)
		}
		op, _ := reg.GetOperationStatus("ctx")
		if op.Status.IsTerminal() {
			t.Errorf("context cancellation should not cancel the operation, got %s", op.Status)
		}
	})
}

func TestSinkPanicIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	reg := newTestRegistry(t, testConfig(), WithLogger(zap.New(core)))

	reg.Subscribe(SinkFunc(func(ProgressUpdate) { panic("sink exploded") }))
	good := &recordingSink{}
	reg.Subscribe(good)

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.UpdateOperation("op", WithProgress(50))
	reg.CompleteOperation("op", true, nil)
	flush(t, reg)

	if got := len(good.forOperation("op")); got != 3 {
		t.Errorf("healthy sink got %d updates, want 3", got)
	}
	if got := logs.FilterMessage("progress sink panicked").Len(); got != 3 {
		t.Errorf("panic log entries = %d, want 3", got)
	}
	if stats := reg.SinkStats(); stats.Panics != 3 {
		t.Errorf("SinkStats().Panics = %d, want 3", stats.Panics)
	}
	if op, _ := reg.GetOperationStatus("op"); op.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", op.Status)
	}
}

func TestSlowSinkDoesNotBlockProducers(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	release := make(chan struct{})
	reg.Subscribe(SinkFunc(func(ProgressUpdate) { <-release }))
	fast := &recordingSink{}
	reg.Subscribe(fast)

	if _, err := reg.StartOperation("op", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		for i := 1; i <= 20; i++ {
			reg.UpdateOperation("op", WithProgress(float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("updates blocked on a slow sink")
	}

	deadline := time.Now().Add(time.Second)
	for len(fast.forOperation("op")) < 21 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(fast.forOperation("op")); got != 21 {
		t.Errorf("fast sink got %d updates, want 21", got)
	}
	close(release)
}

func TestFullSinkQueueKeepsTerminalUpdates(t *testing.T) {
	cfg := testConfig()
	cfg.SinkQueueSize = 2
	reg := newTestRegistry(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rec := &recordingSink{}
	reg.Subscribe(SinkFunc(func(u ProgressUpdate) {
		once.Do(func() {
			close(entered)
			<-release
		})
		rec.OnProgress(u)
	}))

	if _, err := reg.StartOperation("blocker", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("sink never received the first update")
	}

	// Every queued entry is terminal by the time "c" starts.
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if _, err := reg.StartOperation(id, "llm_chat"); err != nil {
			t.Fatal(err)
		}
		if !reg.CompleteOperation(id, true, nil) {
			t.Fatalf("CompleteOperation(%q) = false", id)
		}
	}

	close(release)
	flush(t, reg)

	for _, id := range ids {
		got := rec.forOperation(id)
		if len(got) == 0 || got[len(got)-1].Status != StatusCompleted {
			t.Errorf("%s: updates = %v, want a final completed update", id, got)
		}
	}

	stats := reg.SinkStats()
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3 queued updates", stats.Dropped)
	}
	if stats.Delivered != stats.Enqueued {
		t.Errorf("Delivered = %d, Enqueued = %d", stats.Delivered, stats.Enqueued)
	}
}

func TestNotificationOrderPerOperation(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	sinks := []*recordingSink{{}, {}}
	for _, s := range sinks {
		reg.Subscribe(s)
	}

	const ops = 8
	const steps = 50
	var wg sync.WaitGroup
	for i := 0; i < ops; i++ {
		id := fmt.Sprintf("op-%d", i)
		if _, err := reg.StartOperation(id, "llm_chat"); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for p := 1; p <= steps; p++ {
				reg.UpdateOperation(id, WithProgress(float64(p)))
			}
			reg.CompleteOperation(id, true, nil)
		}(id)
	}
	wg.Wait()
	flush(t, reg)

	for si, s := range sinks {
		for i := 0; i < ops; i++ {
			id := fmt.Sprintf("op-%d", i)
			updates := s.forOperation(id)
			if len(updates) != steps+2 {
				t.Fatalf("sink %d op %s: %d updates, want %d", si, id, len(updates), steps+2)
			}
			for j := 1; j < len(updates); j++ {
				if updates[j].Progress < updates[j-1].Progress {
					t.Fatalf("sink %d op %s: progress went backwards at %d", si, id, j)
				}
			}
			if last := updates[len(updates)-1]; last.Status != StatusCompleted {
				t.Errorf("sink %d op %s: last status %s", si, id, last.Status)
			}
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	sink := &recordingSink{}
	unsubscribe := reg.Subscribe(sink)

	if _, err := reg.StartOperation("a", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	flush(t, reg)
	unsubscribe()
	unsubscribe()

	if _, err := reg.StartOperation("b", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	flush(t, reg)
	if got := len(sink.all()); got != 1 {
		t.Errorf("updates after unsubscribe = %d, want 1", got)
	}
}

func TestBackgroundLoopRepublishes(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	reg := newTestRegistry(t, cfg)
	sink := &recordingSink{}
	reg.Subscribe(sink)

	if _, err := reg.StartOperation("running", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartOperation("finished", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.CompleteOperation("finished", true, nil)
	reg.Start()
	reg.Start()

	deadline := time.Now().Add(time.Second)
	for len(sink.forOperation("running")) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sink.forOperation("running")); got < 4 {
		t.Errorf("periodic updates = %d, want at least 4", got)
	}
	if got := len(sink.forOperation("finished")); got != 2 {
		t.Errorf("terminal operation republished: %d updates, want 2", got)
	}
}

func TestShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	reg := New(cfg)
	sink := &recordingSink{}
	reg.Subscribe(sink)
	reg.Start()

	if _, err := reg.StartOperation("a", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartOperation("b", "llm_chat"); err != nil {
		t.Fatal(err)
	}
	reg.CompleteOperation("b", true, nil)

	reg.Shutdown()
	reg.Shutdown()

	if !reg.Closed() {
		t.Error("Closed() = false after Shutdown")
	}
	a, _ := reg.GetOperationStatus("a")
	if a.Status != StatusCancelled {
		t.Errorf("active operation status = %s, want cancelled", a.Status)
	}
	b, _ := reg.GetOperationStatus("b")
	if b.Status != StatusCompleted {
		t.Errorf("completed operation status = %s, want completed", b.Status)
	}

	updates := sink.forOperation("a")
	if len(updates) == 0 || updates[len(updates)-1].Status != StatusCancelled {
		t.Error("sink did not receive the cancellation before shutdown")
	}

	if _, err := reg.StartOperation("c", "llm_chat"); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("StartOperation after shutdown error = %v, want ErrRegistryClosed", err)
	}
	before := len(sink.all())
	time.Sleep(30 * time.Millisecond)
	if after := len(sink.all()); after != before {
		t.Errorf("notifications after shutdown: %d -> %d", before, after)
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	reg.Subscribe(&recordingSink{})
	reg.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("op-%d", i)
			if _, err := reg.StartOperation(id, "agent_task"); err != nil {
				t.Error(err)
				return
			}
			for p := 0; p <= 100; p += 10 {
				reg.UpdateOperation(id, WithProgress(float64(p)), WithTokens(int64(p)))
				_ = reg.GetActiveOperations()
			}
			reg.CompleteOperation(id, i%2 == 0, nil)
		}(i)
	}
	wg.Wait()

	ops := reg.GetActiveOperations()
	if len(ops) != 50 {
		t.Fatalf("operations = %d, want 50", len(ops))
	}
	for id, op := range ops {
		if !op.Status.IsTerminal() {
			t.Errorf("%s status = %s, want terminal", id, op.Status)
		}
	}
	if got := len(reg.DurationHistory("agent_task")); got != DefaultHistorySize {
		t.Errorf("history length = %d, want %d", got, DefaultHistorySize)
	}
}

func TestCleanupFinished(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, testConfig(), WithClock(clock.Now))

	for _, id := range []string{"a", "b", "c"} {
		if _, err := reg.StartOperation(id, "llm_chat"); err != nil {
			t.Fatal(err)
		}
	}
	reg.CompleteOperation("a", true, nil)
	reg.CancelOperation("b")
	clock.Advance(2 * time.Minute)

	if n := reg.CleanupFinished(time.Minute); n != 2 {
		t.Errorf("CleanupFinished() = %d, want 2", n)
	}
	if _, ok := reg.GetOperationStatus("c"); !ok {
		t.Error("active operation removed by cleanup")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	if _, err := reg.StartOperation("op", "llm_chat", WithMetadata(Metadata{"k": String("v")})); err != nil {
		t.Fatal(err)
	}
	op, _ := reg.GetOperationStatus("op")
	op.Metadata["k"] = String("mutated")
	*op.EstimatedDuration = 999

	again, _ := reg.GetOperationStatus("op")
	if v, _ := again.Metadata["k"].Str(); v != "v" {
		t.Errorf("metadata leaked mutation: %q", v)
	}
	if *again.EstimatedDuration != 5 {
		t.Errorf("estimate leaked mutation: %v", *again.EstimatedDuration)
	}
}
