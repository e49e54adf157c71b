package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// loopErrorBackoff is how long the background loop pauses after a failed tick.
const loopErrorBackoff = time.Second

// Start launches the background loop that re-publishes a fresh snapshot
// of every non-terminal operation each UpdateInterval, so sinks see
// elapsed time and ETA advance between explicit updates. Calling Start
// more than once, or after Shutdown, does nothing.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		r.loopCancel = cancel
		r.loopDone = make(chan struct{})
		go r.run(ctx)
	})
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.tick(); err != nil {
				r.logger.Error("monitor loop tick failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(loopErrorBackoff):
				}
			}
		}
	}
}

// tick publishes snapshots of all non-terminal operations. Panics are
// converted to errors so one bad tick cannot stop the loop.
func (r *Registry) tick() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &loopPanic{value: rec}
		}
	}()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.ops {
		if e.op.Status.IsTerminal() {
			continue
		}
		r.publishLocked(e)
	}
	return nil
}

type loopPanic struct{ value any }

func (p *loopPanic) Error() string {
	return fmt.Sprintf("panic in monitor loop: %v", p.value)
}

// Shutdown cancels every non-terminal operation, stops the background
// loop and removal timers, and stops accepting notifications. Sinks get
// up to Config.ShutdownWait to drain what was already queued. Shutdown
// is idempotent.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		cancelled := 0
		for _, e := range r.ops {
			if e.op.Status.IsTerminal() {
				continue
			}
			r.finishLocked(e, StatusCancelled, "")
			r.publishLocked(e)
			cancelled++
		}
		for _, e := range r.ops {
			if e.removal != nil {
				e.removal.Stop()
				e.removal = nil
			}
		}
		r.closed = true
		subs := r.subs
		r.subs = nil
		cancel := r.loopCancel
		done := r.loopDone
		r.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		for _, s := range subs {
			s.close()
		}
		timeout := time.NewTimer(r.cfg.ShutdownWait)
		defer timeout.Stop()
		for _, s := range subs {
			select {
			case <-s.done:
			case <-timeout.C:
				r.logger.Warn("progress sinks did not drain before shutdown deadline",
					zap.Duration("wait", r.cfg.ShutdownWait))
				return
			}
		}
		r.logger.Debug("monitor registry shut down", zap.Int("cancelled_operations", cancelled))
	})
}

// Closed reports whether Shutdown has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
