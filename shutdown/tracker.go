package shutdown

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrTrackerClosed is returned by Begin once shutdown has started.
	ErrTrackerClosed = errors.New("shutdown in progress: not accepting new work")

	// ErrDrainTimeout is returned when in-flight work outlives the drain context.
	ErrDrainTimeout = errors.New("timed out waiting for in-flight work")
)

// WorkTracker counts named units of in-flight work so shutdown can drain
// them before running cleanup steps.
//
// Begin and the returned done func bracket a unit of work. After Close,
// Begin refuses new work while existing units may still finish.
type WorkTracker struct {
	mu      sync.Mutex
	active  map[string]int
	total   int
	closed  bool
	drained chan struct{}
}

// NewWorkTracker returns an open tracker with no work in flight.
func NewWorkTracker() *WorkTracker {
	return &WorkTracker{active: make(map[string]int)}
}

// Begin registers one unit of work under name. The returned func must be
// called exactly once when the work ends; extra calls are ignored.
func (t *WorkTracker) Begin(name string) (done func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTrackerClosed
	}
	t.active[name]++
	t.total++

	var once sync.Once
	return func() { once.Do(func() { t.end(name) }) }, nil
}

func (t *WorkTracker) end(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[name]--; t.active[name] <= 0 {
		delete(t.active, name)
	}
	t.total--
	if t.total == 0 && t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

// Close stops the tracker from accepting new work.
func (t *WorkTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// IsClosed reports whether Close has been called.
func (t *WorkTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Active returns the number of units in flight.
func (t *WorkTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ActiveNames returns the sorted names of work still in flight.
func (t *WorkTracker) ActiveNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.active))
	for name := range t.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drain blocks until no work is in flight or ctx is done, in which case it
// returns ErrDrainTimeout.
func (t *WorkTracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	if t.total == 0 {
		t.mu.Unlock()
		return nil
	}
	if t.drained == nil {
		t.drained = make(chan struct{})
	}
	drained := t.drained
	t.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}
