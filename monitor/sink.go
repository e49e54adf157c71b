package monitor

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Sink receives progress notifications. OnProgress is called from a
// goroutine owned by the Registry, one goroutine per sink, with updates
// in the order the registry applied them. A sink may call back into the
// Registry.
type Sink interface {
	OnProgress(update ProgressUpdate)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(update ProgressUpdate)

// OnProgress calls f(update).
func (f SinkFunc) OnProgress(update ProgressUpdate) { f(update) }

// subscription is the per-sink delivery queue. Producers append under
// the registry lock; the worker goroutine drains outside of it.
type subscription struct {
	id     uint64
	name   string
	sink   Sink
	logger *zap.Logger
	limit  int

	mu      sync.Mutex
	queue   []ProgressUpdate
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

func newSubscription(id uint64, sink Sink, limit int, logger *zap.Logger) *subscription {
	if limit <= 0 {
		limit = DefaultSinkQueueSize
	}
	return &subscription{
		id:     id,
		name:   fmt.Sprintf("%T#%d", sink, id),
		sink:   sink,
		logger: logger,
		limit:  limit,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends an update without blocking. When the queue is full the
// oldest queued non-terminal update is discarded. If every queued update
// is terminal, an incoming non-terminal update is discarded instead and an
// incoming terminal update is queued past the limit, so terminal
// transitions are never lost.
func (s *subscription) enqueue(u ProgressUpdate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit && !s.dropOldestLocked() && !u.Status.IsTerminal() {
		s.dropped.Add(1)
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, u)
	s.enqueued.Add(1)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dropOldestLocked removes the oldest non-terminal queued update. It
// reports false, leaving the queue untouched, when every entry is terminal.
func (s *subscription) dropOldestLocked() bool {
	victim := slices.IndexFunc(s.queue, func(u ProgressUpdate) bool {
		return !u.Status.IsTerminal()
	})
	if victim < 0 {
		return false
	}
	s.queue = slices.Delete(s.queue, victim, victim+1)
	s.dropped.Add(1)
	// A dropped update counts as handled for Flush purposes.
	s.delivered.Add(1)
	return true
}

// run delivers queued updates until the subscription is closed and drained.
func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, u := range batch {
			s.deliver(u)
			s.delivered.Add(1)
		}
	}
}

// deliver invokes the sink, isolating the registry from sink panics.
func (s *subscription) deliver(u ProgressUpdate) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("progress sink panicked",
				zap.String("sink", s.name),
				zap.String("operation_id", u.OperationID),
				zap.Any("panic", r))
		}
	}()
	s.sink.OnProgress(u)
}

// close stops accepting updates; the worker drains what is queued and exits.
func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pending reports whether queued updates remain undelivered.
func (s *subscription) pending() bool {
	return s.delivered.Load() < s.enqueued.Load()
}
