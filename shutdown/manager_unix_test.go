//go:build unix

package shutdown

import (
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestManager_StartReceivesSignal(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), WithSignals(syscall.SIGUSR1))
	m.Start()
	m.Start()
	defer m.Stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-m.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not cancel the manager context")
	}
	if m.Signal() != syscall.SIGUSR1 {
		t.Errorf("Signal() = %v", m.Signal())
	}
}
