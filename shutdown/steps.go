package shutdown

import (
	"context"
	"errors"
	"syscall"

	"crewmonitor/core"
)

// Step priorities used by crewmonitor. Lower values run first.
const (
	// PriorityHTTP stops accepting dashboard traffic and closes websockets.
	PriorityHTTP = 10
	// PriorityWorkers stops background loops such as health checks.
	PriorityWorkers = 20
	// PriorityMonitor drains the operation registry and its sinks.
	PriorityMonitor = 30
	// PriorityMetrics flushes final metric state.
	PriorityMetrics = 40
	// PriorityLogger flushes buffered log entries last.
	PriorityLogger = 90
)

// HTTPServer adapts anything with Shutdown(ctx) error, such as
// *webui.Server or *http.Server.
func HTTPServer(s interface {
	Shutdown(ctx context.Context) error
}) core.ShutdownFunc {
	return s.Shutdown
}

// Cancel adapts a context cancel func used to stop background goroutines.
func Cancel(cancel context.CancelFunc) core.ShutdownFunc {
	return func(context.Context) error {
		cancel()
		return nil
	}
}

// Blocking adapts a cleanup call without a context, such as
// (*monitor.Registry).Shutdown. The call keeps running in the background if
// ctx ends first, and the step reports ctx.Err().
func Blocking(fn func()) core.ShutdownFunc {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SyncLogger flushes a logger. Sync errors from terminals and pipes that
// do not support fsync are ignored.
func SyncLogger(l interface{ Sync() error }) core.ShutdownFunc {
	return func(context.Context) error {
		if err := l.Sync(); err != nil && !isUnsyncable(err) {
			return err
		}
		return nil
	}
}

func isUnsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}
