package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"crewmonitor/core"
	"crewmonitor/logging"
	"crewmonitor/shutdown"

	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"go.uber.org/zap"
)

func main() {
	if handled, code := HandleServiceCommand(os.Args[1:], os.Stdout, os.Stderr); handled {
		os.Exit(code)
	}
	if !service.Interactive() {
		os.Exit(RunAsService())
	}
	os.Exit(run(runOptions{out: os.Stdout, signals: true}))
}

// runOptions selects how run is driven: interactively by signals, or by
// a service manager closing stop.
type runOptions struct {
	out     io.Writer
	signals bool
	stop    <-chan struct{}
}

// run loads configuration, runs the monitor until shutdown and returns the
// process exit code.
func run(opts runOptions) int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		// Logger is not configured yet.
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeConfig
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}

	logger.Info("Configuration loaded",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Duration("update_interval", cfg.Monitor.UpdateInterval),
		zap.Duration("removal_delay", cfg.Monitor.RemovalDelay),
		zap.Duration("retention", cfg.Metrics.Retention),
		zap.Strings("providers", cfg.Health.Providers),
		zap.Bool("webui", cfg.WebUI.Enabled),
		zap.String("version", core.GetVersionInfo()),
	)

	app, err := NewApp(cfg, logger, opts.out)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		_ = logger.Sync()
		return core.ExitCodeError
	}

	mgr := shutdown.NewManager(logger.Zap(), shutdown.WithTimeout(cfg.ShutdownTimeout))
	if opts.signals {
		mgr.Start()
		defer mgr.Stop()
	}
	if opts.stop != nil {
		go func() {
			select {
			case <-opts.stop:
				mgr.Trigger(nil)
			case <-mgr.Context().Done():
			}
		}()
	}

	app.Run(mgr)

	err = mgr.Shutdown()
	code := mgr.ExitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown finished with errors: %v\n", err)
	}
	logExit(logger.Zap(), code)
	_ = logger.Sync()
	return code
}

// logExit records why the process is exiting.
func logExit(log *zap.Logger, code int) {
	fields := []zap.Field{
		zap.Int("exit_code", code),
		zap.String("reason", core.ExitCodeName(code)),
	}
	switch {
	case core.IsSignalExit(code):
		log.Info("crewmonitor stopped by signal", fields...)
	case code != core.ExitCodeSuccess:
		log.Warn("crewmonitor stopped with errors", fields...)
	default:
		log.Info("crewmonitor stopped", fields...)
	}
}

func newLogger(cfg *core.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.Log.Development, cfg.Log.FilePath)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Level != "" {
		logger.SetLevel(logging.ParseLevel(cfg.Log.Level, logger.Level()))
	}
	return logger, nil
}
