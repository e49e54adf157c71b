package main

import (
	"bytes"
	"strings"
	"testing"

	"crewmonitor/core"

	"github.com/kardianos/service"
)

func TestHandleServiceCommand_NotHandled(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"unknown command", []string{"serve"}},
		{"flag", []string{"--port=3000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			handled, _ := HandleServiceCommand(tt.args, &stdout, &stderr)
			if handled {
				t.Errorf("HandleServiceCommand(%v) handled", tt.args)
			}
			if stdout.Len() != 0 || stderr.Len() != 0 {
				t.Errorf("unexpected output: %q %q", stdout.String(), stderr.String())
			}
		})
	}
}

func TestHandleServiceCommand_Help(t *testing.T) {
	for _, cmd := range []string{"help", "-h", "--help", "-help"} {
		t.Run(cmd, func(t *testing.T) {
			var stdout bytes.Buffer
			handled, code := HandleServiceCommand([]string{cmd}, &stdout, &bytes.Buffer{})
			if !handled || code != core.ExitCodeSuccess {
				t.Fatalf("HandleServiceCommand(%q) = %v, %d", cmd, handled, code)
			}
			for _, want := range []string{"install", "uninstall", "status", "CREWMONITOR_CONFIG_FILE"} {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("usage missing %q", want)
				}
			}
		})
	}
}

func TestHandleServiceCommand_Version(t *testing.T) {
	var stdout bytes.Buffer
	handled, code := HandleServiceCommand([]string{"version"}, &stdout, &bytes.Buffer{})
	if !handled || code != core.ExitCodeSuccess {
		t.Fatalf("version = %v, %d", handled, code)
	}
	if !strings.Contains(stdout.String(), core.Version) {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := ServiceConfig()
	if cfg.Name != "crewmonitor" || cfg.Description == "" {
		t.Errorf("ServiceConfig() = %+v", cfg)
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status service.Status
		err    error
		want   string
	}{
		{service.StatusRunning, nil, "running"},
		{service.StatusStopped, nil, "stopped"},
		{service.StatusUnknown, nil, "in an unknown state"},
		{service.StatusUnknown, service.ErrNotInstalled, "not installed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := statusText(tt.status, tt.err); got != tt.want {
				t.Errorf("statusText() = %q, want %q", got, tt.want)
			}
		})
	}
}
