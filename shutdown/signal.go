package shutdown

import (
	"os"
	"sync"
)

// SignalCounter records the shutdown signals a process receives.
//
// The first signal starts a graceful shutdown; once the count reaches
// forceAfter the onForce callback runs so an operator can abandon a
// shutdown that is stuck on a slow cleanup step.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	first      os.Signal
	forceAfter int
	onForce    func(os.Signal)
}

// NewSignalCounter creates a counter that calls onForce when the count
// reaches forceAfter. A forceAfter below 1 disables forcing.
func NewSignalCounter(forceAfter int, onForce func(os.Signal)) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Record counts sig and returns the new count. The force callback runs
// outside the lock.
func (s *SignalCounter) Record(sig os.Signal) int {
	s.mu.Lock()
	s.count++
	count := s.count
	if count == 1 {
		s.first = sig
	}
	force := s.forceAfter > 0 && count >= s.forceAfter && s.onForce != nil
	onForce := s.onForce
	s.mu.Unlock()

	if force {
		onForce(sig)
	}
	return count
}

// Count returns how many signals have been recorded.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// First returns the signal that started shutdown, or nil.
func (s *SignalCounter) First() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// Reset clears the recorded signals.
func (s *SignalCounter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.first = nil
}
