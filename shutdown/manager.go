// Package shutdown coordinates graceful process shutdown for crewmonitor.
//
// A Manager listens for SIGINT and SIGTERM, cancels its context on the first
// signal, drains in-flight work and then runs the registered cleanup steps
// in priority order. A second signal forces the process to exit with the
// signal's conventional exit code.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"crewmonitor/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// minStepBudget is the least time cleanup steps get after a slow drain.
const minStepBudget = time.Second

// Manager is the shutdown coordination organism. It composes:
//   - WorkTracker: in-flight work that must finish before cleanup
//   - StepRegistry: prioritized cleanup steps
//   - SignalCounter: first signal drains, second signal forces exit
//
// Usage:
//
//	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	mgr.Register("http", shutdown.PriorityHTTP, shutdown.HTTPServer(server))
//	mgr.Register("logger", shutdown.PriorityLogger, shutdown.SyncLogger(log))
//	mgr.Start()
//
//	<-mgr.Context().Done()
//	err := mgr.Shutdown()
//	os.Exit(mgr.ExitCode(err))
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	signals  []os.Signal
	exit     func(code int)
	ctx      context.Context
	cancel   context.CancelFunc
	tracker  *WorkTracker
	steps    *StepRegistry
	received *SignalCounter

	mu       sync.Mutex
	started  bool
	sigChan  chan os.Signal
	stopSigs chan struct{}

	once    sync.Once
	results []StepResult
	err     error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the overall shutdown timeout. Non-positive values are
// ignored.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithSignals replaces the signals the manager listens for.
func WithSignals(sigs ...os.Signal) ManagerOption {
	return func(m *Manager) {
		m.signals = sigs
	}
}

// WithForceExit replaces os.Exit for the forced-exit path.
func WithForceExit(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		if exit != nil {
			m.exit = exit
		}
	}
}

// NewManager creates a Manager. Nothing listens for signals until Start.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:  logger.Named("shutdown"),
		timeout: DefaultTimeout,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		exit:    os.Exit,
		ctx:     ctx,
		cancel:  cancel,
		tracker: NewWorkTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.steps = NewStepRegistry(m.logger)
	m.received = NewSignalCounter(2, func(sig os.Signal) {
		code := core.ExitCodeForSignal(sig)
		m.logger.Warn("Received second signal, forcing exit",
			zap.Stringer("signal", sig),
			zap.Int("exit_code", code),
		)
		_ = m.logger.Sync()
		m.exit(code)
	})
	return m
}

// Context is cancelled as soon as shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup step. Lower priorities run first; see the
// Priority constants for the order crewmonitor uses.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	if !m.steps.Register(name, priority, fn) {
		m.logger.Warn("Shutdown step not registered",
			zap.String("step", name),
			zap.Bool("already_ran", m.steps.HasRun()),
		)
		return
	}
	m.logger.Debug("Registered shutdown step",
		zap.String("step", name),
		zap.Int("priority", priority),
	)
}

// Steps returns the registered step names in execution order.
func (m *Manager) Steps() []string {
	return m.steps.Names()
}

// Start begins listening for the configured signals. Calling it twice is a
// no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.sigChan = make(chan os.Signal, 2)
	m.stopSigs = make(chan struct{})
	signal.Notify(m.sigChan, m.signals...)

	go func(sigs <-chan os.Signal, stop <-chan struct{}) {
		for {
			select {
			case sig := <-sigs:
				m.Trigger(sig)
			case <-stop:
				return
			}
		}
	}(m.sigChan, m.stopSigs)

	m.logger.Debug("Listening for shutdown signals", zap.Int("signals", len(m.signals)))
}

// Stop releases the signal subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	signal.Stop(m.sigChan)
	close(m.stopSigs)
	m.started = false
}

// Trigger begins shutdown as if sig had been received. A nil sig starts
// shutdown without affecting the exit code.
func (m *Manager) Trigger(sig os.Signal) {
	if sig == nil {
		if m.ctx.Err() == nil {
			m.logger.Info("Shutdown requested")
		}
		m.cancel()
		return
	}
	if n := m.received.Record(sig); n == 1 {
		m.logger.Info("Received signal, starting graceful shutdown",
			zap.Stringer("signal", sig),
			zap.Duration("timeout", m.timeout),
		)
	}
	m.cancel()
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	return m.received.First()
}

// Go runs fn as tracked work. It returns ErrTrackerClosed once shutdown
// has begun; otherwise it returns fn's error. fn receives the manager
// context, so it observes shutdown as cancellation.
func (m *Manager) Go(name string, fn func(ctx context.Context) error) error {
	done, err := m.tracker.Begin(name)
	if err != nil {
		return err
	}
	defer done()
	return fn(m.ctx)
}

// ActiveWork returns the number of tracked units in flight.
func (m *Manager) ActiveWork() int {
	return m.tracker.Active()
}

// Shutdown runs the shutdown sequence once and returns the joined step
// errors. Later calls return the first result.
//
// Sequence:
//  1. cancel the manager context and refuse new tracked work
//  2. drain in-flight work within the timeout
//  3. run cleanup steps with the remaining budget
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.cancel()
		m.tracker.Close()

		start := time.Now()
		deadline := start.Add(m.timeout)
		drainCtx, cancelDrain := context.WithDeadline(context.Background(), deadline)
		if err := m.tracker.Drain(drainCtx); err != nil {
			m.logger.Warn("In-flight work did not finish",
				zap.Strings("work", m.tracker.ActiveNames()),
				zap.Error(err),
			)
		}
		cancelDrain()

		budget := time.Until(deadline)
		if budget < minStepBudget {
			budget = minStepBudget
		}
		stepCtx, cancelSteps := context.WithTimeout(context.Background(), budget)
		defer cancelSteps()

		m.results, m.err = m.steps.Run(stepCtx)
		m.logger.Info("Shutdown complete",
			zap.Int("steps", len(m.results)),
			zap.Duration("duration", time.Since(start)),
			zap.Bool("clean", m.err == nil),
		)
	})
	return m.err
}

// Results returns the step results of the completed shutdown.
func (m *Manager) Results() []StepResult {
	return m.results
}

// ExitCode maps the shutdown outcome to a process exit code. A received
// signal takes precedence over step errors.
func (m *Manager) ExitCode(shutdownErr error) int {
	if sig := m.Signal(); sig != nil {
		return core.ExitCodeForSignal(sig)
	}
	if shutdownErr != nil {
		return core.ExitCodeError
	}
	return core.ExitCodeSuccess
}
