package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"crewmonitor/core"

	"github.com/kardianos/service"
)

// serviceStopTimeout bounds how long the service manager waits for Stop.
const serviceStopTimeout = 45 * time.Second

var errStopTimeout = errors.New("timeout waiting for service to stop")

// ServiceConfig returns the OS service definition.
func ServiceConfig() *service.Config {
	return &service.Config{
		Name:        "crewmonitor",
		DisplayName: "CrewMonitor",
		Description: "Real-time operation monitoring, metrics and health checks for LLM agent crews",
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

// program implements service.Interface around run.
type program struct {
	stop chan struct{}
	done chan struct{}
	code int
}

// Start is called by the service manager. It must not block.
func (p *program) Start(s service.Service) error {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.code = run(runOptions{out: io.Discard, stop: p.stop})
	}()
	return nil
}

// Stop asks run to shut down and waits for it.
func (p *program) Stop(s service.Service) error {
	close(p.stop)
	select {
	case <-p.done:
		return nil
	case <-time.After(serviceStopTimeout):
		return errStopTimeout
	}
}

// RunAsService runs under the OS service manager and returns the exit code.
func RunAsService() int {
	prg := &program{}
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		return core.ExitCodeError
	}
	if err := s.Run(); err != nil {
		return core.ExitCodeError
	}
	return prg.code
}

// HandleServiceCommand handles management commands given as the first
// argument. It reports whether a command was handled and the exit code to
// use. Without arguments, or with an unknown command, nothing is handled.
func HandleServiceCommand(args []string, stdout, stderr io.Writer) (bool, int) {
	if len(args) == 0 {
		return false, core.ExitCodeSuccess
	}

	switch args[0] {
	case "help", "-h", "--help", "-help":
		PrintUsage(stdout)
		return true, core.ExitCodeSuccess
	case "version", "--version":
		fmt.Fprintln(stdout, "crewmonitor", core.GetVersionInfo())
		return true, core.ExitCodeSuccess
	case "install", "uninstall", "remove", "start", "stop", "restart", "status":
	default:
		return false, core.ExitCodeSuccess
	}

	s, err := service.New(&program{}, ServiceConfig())
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to create service: %v\n", err)
		return true, core.ExitCodeError
	}

	if args[0] == "status" {
		status, err := s.Status()
		if err != nil && !errors.Is(err, service.ErrNotInstalled) {
			fmt.Fprintf(stderr, "Error: failed to get service status: %v\n", err)
			return true, core.ExitCodeError
		}
		fmt.Fprintln(stdout, "Service is", statusText(status, err))
		return true, core.ExitCodeSuccess
	}

	action := args[0]
	if action == "remove" {
		action = "uninstall"
	}
	if err := service.Control(s, action); err != nil {
		fmt.Fprintf(stderr, "Error: failed to %s service: %v\n", action, err)
		return true, core.ExitCodeError
	}
	fmt.Fprintf(stdout, "Service %s succeeded\n", action)
	return true, core.ExitCodeSuccess
}

func statusText(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "in an unknown state"
	}
}

// PrintUsage prints the command-line help.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "crewmonitor - real-time operation monitoring for LLM agent crews")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: crewmonitor [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  install    Install crewmonitor as an OS service")
	fmt.Fprintln(w, "  uninstall  Remove the OS service (alias: remove)")
	fmt.Fprintln(w, "  start      Start the service")
	fmt.Fprintln(w, "  stop       Stop the service")
	fmt.Fprintln(w, "  restart    Restart the service")
	fmt.Fprintln(w, "  status     Show the service status")
	fmt.Fprintln(w, "  version    Print version information")
	fmt.Fprintln(w, "  help       Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run without arguments to monitor in the foreground. Configuration comes")
	fmt.Fprintln(w, "from CREWMONITOR_* environment variables, .env and CREWMONITOR_CONFIG_FILE.")
}
