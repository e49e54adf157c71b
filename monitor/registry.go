package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the live operation registry. It owns the set of in-flight
// operations, the per-type duration history used for ETA estimates, and
// the sinks that receive progress notifications.
//
// Lifecycle: New, Start, use, Shutdown. All methods are safe for
// concurrent use.
//
// Usage:
//
//	reg := monitor.New(monitor.DefaultConfig(), monitor.WithLogger(logger))
//	reg.Subscribe(display.NewConsoleRenderer(os.Stdout))
//	reg.Start()
//	defer reg.Shutdown()
//
//	reg.StartOperation("chat-1", "llm_chat")
//	reg.UpdateOperation("chat-1", monitor.WithStatus(monitor.StatusStreaming), monitor.WithProgress(40))
//	reg.CompleteOperation("chat-1", true, nil)
type Registry struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	ops       map[string]*entry
	history   *durationHistory
	subs      []*subscription
	nextSubID uint64
	closed    bool

	startOnce    sync.Once
	shutdownOnce sync.Once
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
}

// entry is the registry-owned mutable record behind a LiveOperation.
type entry struct {
	op      LiveOperation
	removal *time.Timer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for sink failures and loop errors.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Registry. Zero config values fall back to defaults.
func New(cfg Config, opts ...Option) *Registry {
	cfg = applyDefaults(cfg)
	r := &Registry{
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		ops:     make(map[string]*entry),
		history: newDurationHistory(cfg.HistorySize, cfg.DurationEstimates),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// StartOption configures StartOperation.
type StartOption func(*startParams)

type startParams struct {
	estimate *float64
	metadata Metadata
	status   OperationStatus
}

// WithEstimatedDuration supplies the expected run time in seconds,
// overriding history and the default table.
func WithEstimatedDuration(seconds float64) StartOption {
	return func(p *startParams) {
		if seconds > 0 && !math.IsInf(seconds, 0) {
			p.estimate = &seconds
		}
	}
}

// WithMetadata attaches initial metadata.
func WithMetadata(md Metadata) StartOption {
	return func(p *startParams) {
		if p.metadata == nil {
			p.metadata = make(Metadata, len(md))
		}
		p.metadata.Merge(md)
	}
}

// WithInitialStatus starts the operation in a non-terminal status other
// than Queued.
func WithInitialStatus(status OperationStatus) StartOption {
	return func(p *startParams) {
		p.status = status
	}
}

// StartOperation registers a new operation and notifies every sink once.
//
// An id that belongs to a non-terminal operation is rejected with
// ErrOperationExists. An id whose operation already finished and is only
// waiting to be removed may be reused.
func (r *Registry) StartOperation(id, opType string, opts ...StartOption) (LiveOperation, error) {
	if id == "" {
		return LiveOperation{}, errors.New("operation id must not be empty")
	}
	params := startParams{status: StatusQueued}
	for _, opt := range opts {
		opt(&params)
	}
	if !params.status.Valid() || params.status.IsTerminal() {
		return LiveOperation{}, fmt.Errorf("invalid initial status %s for operation %s", params.status, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return LiveOperation{}, ErrRegistryClosed
	}
	if existing, ok := r.ops[id]; ok {
		if !existing.op.Status.IsTerminal() {
			return LiveOperation{}, fmt.Errorf("%w: %s", ErrOperationExists, id)
		}
		if existing.removal != nil {
			existing.removal.Stop()
		}
	}

	estimate := params.estimate
	if estimate == nil {
		if v, ok := r.history.estimate(opType); ok {
			estimate = &v
		}
	}

	e := &entry{op: LiveOperation{
		ID:                id,
		Type:              opType,
		Status:            params.status,
		CurrentStep:       StepInitializing,
		StartTime:         r.now(),
		EstimatedDuration: estimate,
		Metadata:          params.metadata.Clone(),
	}}
	if e.op.Metadata == nil {
		e.op.Metadata = make(Metadata)
	}
	r.ops[id] = e
	r.publishLocked(e)
	return e.op.clone(), nil
}

// UpdateOption describes one field change applied by UpdateOperation.
type UpdateOption func(*updateParams)

type updateParams struct {
	status   *OperationStatus
	progress *float64
	step     *string
	tokens   *int64
	metadata Metadata
}

// WithStatus sets the status. A terminal status finishes the operation
// the same way CompleteOperation or CancelOperation would.
func WithStatus(status OperationStatus) UpdateOption {
	return func(p *updateParams) { p.status = &status }
}

// WithProgress sets the progress percentage, clamped to [0, 100].
func WithProgress(percent float64) UpdateOption {
	return func(p *updateParams) { p.progress = &percent }
}

// WithStep sets the human-readable step text.
func WithStep(step string) UpdateOption {
	return func(p *updateParams) { p.step = &step }
}

// WithTokens sets the number of tokens processed so far.
func WithTokens(tokens int64) UpdateOption {
	return func(p *updateParams) { p.tokens = &tokens }
}

// WithMetadataMerge merges md into the operation's metadata key-wise.
func WithMetadataMerge(md Metadata) UpdateOption {
	return func(p *updateParams) {
		if p.metadata == nil {
			p.metadata = make(Metadata, len(md))
		}
		p.metadata.Merge(md)
	}
}

// UpdateOperation applies the given changes and notifies every sink once.
// It reports false, and notifies nobody, when the id is unknown or the
// operation is already terminal.
func (r *Registry) UpdateOperation(id string, opts ...UpdateOption) bool {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[id]
	if !ok || r.closed || e.op.Status.IsTerminal() {
		return false
	}

	if p.progress != nil {
		e.op.ProgressPercent = clampProgress(*p.progress)
	}
	if p.step != nil {
		e.op.CurrentStep = *p.step
	}
	if p.tokens != nil {
		e.op.TokensProcessed = max(*p.tokens, 0)
	}
	e.op.Metadata.Merge(p.metadata)

	if p.status != nil && p.status.Valid() {
		status := *p.status
		if status.IsTerminal() {
			step := ""
			if p.step != nil {
				step = *p.step
			}
			r.finishLocked(e, status, step)
		} else {
			e.op.Status = status
		}
	}

	r.publishLocked(e)
	return true
}

// CompleteOperation finishes an operation as Completed or Failed, records
// its duration in the type's history, notifies sinks and schedules removal.
// It reports false when the id is unknown or already terminal.
func (r *Registry) CompleteOperation(id string, success bool, final Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[id]
	if !ok || r.closed || e.op.Status.IsTerminal() {
		return false
	}
	e.op.Metadata.Merge(final)
	status := StatusFailed
	if success {
		status = StatusCompleted
	}
	r.finishLocked(e, status, "")
	r.publishLocked(e)
	return true
}

// CancelOperation moves a non-terminal operation to Cancelled. It reports
// false when the id is unknown or already terminal.
func (r *Registry) CancelOperation(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[id]
	if !ok || e.op.Status.IsTerminal() {
		return false
	}
	r.finishLocked(e, StatusCancelled, "")
	r.publishLocked(e)
	return true
}

// finishLocked applies a terminal status and schedules removal.
// Completed and Failed record the elapsed time in the duration history.
func (r *Registry) finishLocked(e *entry, status OperationStatus, step string) {
	now := r.now()
	e.op.Status = status
	e.op.EndTime = &now

	switch status {
	case StatusCompleted:
		e.op.ProgressPercent = 100
		e.op.CurrentStep = StepCompleted
	case StatusFailed:
		e.op.ProgressPercent = 100
		e.op.CurrentStep = StepFailed
	case StatusCancelled:
		e.op.CurrentStep = StepCancelled
	case StatusQueued, StatusInitializing, StatusProcessing, StatusStreaming, StatusFinalizing:
		return
	}
	if step != "" {
		e.op.CurrentStep = step
	}
	if status == StatusCompleted || status == StatusFailed {
		r.history.record(e.op.Type, e.op.ElapsedSeconds(now))
	}
	r.scheduleRemovalLocked(e)
}

func (r *Registry) scheduleRemovalLocked(e *entry) {
	if r.closed {
		return
	}
	if e.removal != nil {
		e.removal.Stop()
	}
	id := e.op.ID
	e.removal = time.AfterFunc(r.cfg.RemovalDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// The id may have been reused by a newer operation.
		if current, ok := r.ops[id]; ok && current == e {
			delete(r.ops, id)
		}
	})
}

// GetActiveOperations returns snapshots of every operation still in the
// registry, including terminal ones in their removal grace period.
func (r *Registry) GetActiveOperations() map[string]LiveOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LiveOperation, len(r.ops))
	for id, e := range r.ops {
		out[id] = e.op.clone()
	}
	return out
}

// GetOperationStatus returns a snapshot of one operation.
func (r *Registry) GetOperationStatus(id string) (LiveOperation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[id]
	if !ok {
		return LiveOperation{}, false
	}
	return e.op.clone(), true
}

// Progress returns the current notification payload for one operation.
func (r *Registry) Progress(id string) (ProgressUpdate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[id]
	if !ok {
		return ProgressUpdate{}, false
	}
	return NewProgressUpdate(e.op, r.now()), true
}

// ProgressAll returns notification payloads for every operation.
func (r *Registry) ProgressAll() map[string]ProgressUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make(map[string]ProgressUpdate, len(r.ops))
	for id, e := range r.ops {
		out[id] = NewProgressUpdate(e.op, now)
	}
	return out
}

// EstimateDuration returns the estimate a new operation of opType would get.
func (r *Registry) EstimateDuration(opType string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.estimate(opType)
}

// DurationHistory returns the recorded durations for opType, oldest first.
func (r *Registry) DurationHistory(opType string) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.snapshot(opType)
}

// WaitForOperation blocks until the operation reaches a terminal status
// and returns its final snapshot.
//
// If timeout elapses first, the operation is cancelled and ErrWaitTimeout
// is returned together with the cancelled snapshot. A timeout of zero
// waits indefinitely. An unknown id returns ErrOperationNotFound.
func (r *Registry) WaitForOperation(ctx context.Context, id string, timeout time.Duration) (LiveOperation, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(r.cfg.WaitPollInterval)
	defer ticker.Stop()

	for {
		op, ok := r.GetOperationStatus(id)
		if !ok {
			return LiveOperation{}, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
		}
		if op.Status.IsTerminal() {
			return op, nil
		}

		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-deadline:
			if r.CancelOperation(id) {
				op, _ = r.GetOperationStatus(id)
				return op, fmt.Errorf("%w %s after %s", ErrWaitTimeout, id, timeout)
			}
			// Finished between the last poll and the deadline.
			if op, ok = r.GetOperationStatus(id); ok && op.Status.IsTerminal() {
				return op, nil
			}
			return op, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
		case <-ticker.C:
		}
	}
}

// CleanupFinished removes terminal operations that ended more than maxAge
// ago without waiting for their scheduled removal. It returns the number
// removed.
func (r *Registry) CleanupFinished(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.ops {
		if e.op.EndTime == nil || now.Sub(*e.op.EndTime) < maxAge {
			continue
		}
		if e.removal != nil {
			e.removal.Stop()
		}
		delete(r.ops, id)
		removed++
	}
	return removed
}

// Subscribe registers a sink and returns a function that removes it.
// Updates already queued for the sink are still delivered after removal.
func (r *Registry) Subscribe(sink Sink) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || sink == nil {
		return func() {}
	}
	r.nextSubID++
	sub := newSubscription(r.nextSubID, sink, r.cfg.SinkQueueSize, r.logger)
	r.subs = append(r.subs, sub)
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			for i, s := range r.subs {
				if s == sub {
					r.subs = append(r.subs[:i], r.subs[i+1:]...)
					break
				}
			}
			r.mu.Unlock()
			sub.close()
		})
	}
}

// SinkStats reports delivery counters summed across all sinks.
type SinkStats struct {
	Sinks     int    `json:"sinks"`
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

// SinkStats returns delivery counters for the registered sinks.
func (r *Registry) SinkStats() SinkStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := SinkStats{Sinks: len(r.subs)}
	for _, s := range r.subs {
		stats.Enqueued += s.enqueued.Load()
		stats.Delivered += s.delivered.Load()
		stats.Dropped += s.dropped.Load()
		stats.Panics += s.panics.Load()
	}
	return stats
}

// Flush blocks until every update queued so far has been handed to its
// sink, or ctx is done.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	subs := append([]*subscription(nil), r.subs...)
	r.mu.RUnlock()

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		busy := false
		for _, s := range subs {
			if s.pending() {
				busy = true
				break
			}
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// publishLocked enqueues a snapshot of e for every sink. Callers hold r.mu,
// which keeps per-sink order identical to the order changes were applied.
func (r *Registry) publishLocked(e *entry) {
	if len(r.subs) == 0 || r.closed {
		return
	}
	u := NewProgressUpdate(e.op, r.now())
	for _, s := range r.subs {
		s.enqueue(u)
	}
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
