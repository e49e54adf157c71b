package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"crewmonitor/core"

	"go.uber.org/zap"
)

// Step is one named cleanup action run during shutdown.
type Step struct {
	Name     string
	Priority int
	Fn       core.ShutdownFunc
	seq      int
}

// StepResult is the outcome of a single step.
type StepResult struct {
	Name     string
	Priority int
	Duration time.Duration
	Err      error
}

// StepRegistry holds cleanup steps and runs them once, ordered by ascending
// priority. Steps with equal priority run in registration order.
type StepRegistry struct {
	mu     sync.Mutex
	steps  []Step
	nextID int
	ran    bool
	logger *zap.Logger
}

// NewStepRegistry creates an empty registry. A nil logger disables logging.
func NewStepRegistry(logger *zap.Logger) *StepRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepRegistry{logger: logger}
}

// Register adds a step. Registrations after Run are ignored and reported
// as false.
func (r *StepRegistry) Register(name string, priority int, fn core.ShutdownFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ran || fn == nil {
		return false
	}
	r.steps = append(r.steps, Step{Name: name, Priority: priority, Fn: fn, seq: r.nextID})
	r.nextID++
	return true
}

// Names returns the registered step names in execution order.
func (r *StepRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := r.orderedLocked()
	names := make([]string, len(ordered))
	for i, s := range ordered {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of registered steps.
func (r *StepRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// HasRun reports whether Run has been called.
func (r *StepRegistry) HasRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran
}

func (r *StepRegistry) orderedLocked() []Step {
	ordered := make([]Step, len(r.steps))
	copy(ordered, r.steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].seq < ordered[j].seq
	})
	return ordered
}

// Run executes every step in order and returns the per-step results and
// the joined errors. A failing or panicking step does not stop later steps.
// Steps still pending when ctx is done are skipped with ctx.Err(). Only the
// first call runs anything.
func (r *StepRegistry) Run(ctx context.Context) ([]StepResult, error) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil, nil
	}
	r.ran = true
	ordered := r.orderedLocked()
	r.mu.Unlock()

	results := make([]StepResult, 0, len(ordered))
	var errs []error
	for _, step := range ordered {
		res := StepResult{Name: step.Name, Priority: step.Priority}
		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			start := time.Now()
			res.Err = runStep(ctx, step)
			res.Duration = time.Since(start)
		}

		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, res.Err))
			r.logger.Warn("Shutdown step failed",
				zap.String("step", step.Name),
				zap.Int("priority", step.Priority),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Err),
			)
		} else {
			r.logger.Debug("Shutdown step completed",
				zap.String("step", step.Name),
				zap.Duration("duration", res.Duration),
			)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func runStep(ctx context.Context, step Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return step.Fn(ctx)
}
