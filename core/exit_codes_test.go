package core

import (
	"os"
	"syscall"
	"testing"
)

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ExitCodeName(tt.code); got != tt.want {
				t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestExitCodeForSignal(t *testing.T) {
	tests := []struct {
		name string
		sig  os.Signal
		want int
	}{
		{"no signal", nil, ExitCodeSuccess},
		{"interrupt", os.Interrupt, ExitCodeSIGINT},
		{"terminate", syscall.SIGTERM, ExitCodeSIGTERM},
		{"other", syscall.SIGHUP, ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExitCodeForSignal(tt.sig)
			if got != tt.want {
				t.Errorf("ExitCodeForSignal(%v) = %d, want %d", tt.sig, got, tt.want)
			}
			if IsSignalExit(got) != (tt.want == ExitCodeSIGINT || tt.want == ExitCodeSIGTERM) {
				t.Errorf("IsSignalExit(%d) disagrees with signal mapping", got)
			}
		})
	}
}
