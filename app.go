package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"crewmonitor/core"
	"crewmonitor/display"
	"crewmonitor/health"
	"crewmonitor/logging"
	"crewmonitor/metrics"
	"crewmonitor/monitor"
	"crewmonitor/shutdown"
	"crewmonitor/webui"

	"go.uber.org/zap"
)

// App wires the monitoring components together for one process run.
type App struct {
	cfg       *core.Config
	logger    *logging.Logger
	opLog     *logging.OperationLogger
	registry  *monitor.Registry
	collector *metrics.Collector
	checker   *health.Checker
	server    *webui.Server
	console   *display.ConsoleRenderer
	out       io.Writer
}

// NewApp builds every component from cfg. Nothing runs until Run.
func NewApp(cfg *core.Config, logger *logging.Logger, out io.Writer) (*App, error) {
	z := logger.Zap()

	a := &App{
		cfg:       cfg,
		logger:    logger,
		registry:  monitor.New(monitorConfig(cfg), monitor.WithLogger(z)),
		collector: metrics.NewCollector(metricsConfig(cfg), metrics.WithLogger(z)),
		out:       out,
	}
	a.checker = health.NewChecker(healthConfig(cfg),
		health.WithLogger(z),
		health.WithSystemMetricSink(a.collector),
	)

	a.opLog = logging.NewOperationLogger(logger, cfg.ServiceName, cfg.Environment)
	a.opLog.SetUpdater(a.registry)

	if cfg.Monitor.ConsoleProgress {
		a.console = display.NewConsoleRenderer(out)
	}

	if cfg.WebUI.Enabled {
		server, err := webui.NewServer(serverConfig(cfg, a.healthOptions()), a.registry, a.collector, a.checker, z)
		if err != nil {
			return nil, fmt.Errorf("create webui server: %w", err)
		}
		a.server = server
	}
	return a, nil
}

func (a *App) healthOptions() health.RunOptions {
	return health.RunOptions{
		Config:    a.cfg.LLMSettings(),
		Providers: a.cfg.Health.Providers,
	}
}

// Run starts the components, registers their cleanup with mgr and blocks
// until shutdown begins. The caller then runs mgr.Shutdown.
func (a *App) Run(mgr *shutdown.Manager) {
	ctx := mgr.Context()
	log := a.logger.Zap()

	a.registry.Start()
	mgr.Register("monitor", shutdown.PriorityMonitor, shutdown.Blocking(a.registry.Shutdown))
	mgr.Register("metrics", shutdown.PriorityMetrics, func(context.Context) error {
		log.Info("Final metrics",
			zap.Int("points", a.collector.PointCount()),
			zap.Int("operations", len(a.collector.AllPerformanceStats())),
		)
		return nil
	})
	mgr.Register("logger", shutdown.PriorityLogger, shutdown.SyncLogger(a.logger))

	if a.console != nil {
		unsubscribe := a.registry.Subscribe(a.console)
		mgr.Register("console", shutdown.PriorityWorkers, func(context.Context) error {
			unsubscribe()
			return nil
		})
	}

	a.startupCheck(ctx)

	go mgr.Go("metrics-cleanup", func(ctx context.Context) error {
		a.collector.RunCleanup(ctx, a.cfg.Metrics.CleanupInterval)
		return nil
	})
	go mgr.Go("health-checks", func(ctx context.Context) error {
		a.checker.Run(ctx, a.cfg.Health.CheckInterval, a.healthOptions())
		return nil
	})

	if a.server != nil {
		mgr.Register("webui", shutdown.PriorityHTTP, shutdown.HTTPServer(a.server))
		go func() {
			if err := a.server.Start(context.Background()); err != nil {
				log.Error("WebUI server failed", zap.Error(err))
				mgr.Trigger(nil)
			}
		}()
	}

	if a.cfg.Demo {
		go mgr.Go("demo", func(ctx context.Context) error {
			err := RunDemo(ctx, a, DefaultDemoConfig())
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Demo stopped", zap.Error(err))
			}
			return err
		})
	}

	log.Info("crewmonitor running",
		zap.String("version", core.Version),
		zap.String("environment", a.cfg.Environment),
		zap.Bool("webui", a.server != nil),
		zap.Bool("demo", a.cfg.Demo),
	)
	<-ctx.Done()
}

// startupCheck runs one round of probes and prints the report.
func (a *App) startupCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, a.cfg.Health.Timeout+5*time.Second)
	defer cancel()

	start := time.Now()
	results := a.checker.RunAll(checkCtx, a.healthOptions())
	status := a.checker.SystemStatus()
	a.collector.RecordMetric("startup_health_check", float64(time.Since(start).Milliseconds()), metrics.Timer,
		map[string]string{
			"overall_status": status.OverallStatus.String(),
			"checks":         strconv.Itoa(len(results)),
		}, "ms")
	health.WriteReport(a.out, status)

	if status.OverallStatus == health.StatusCritical {
		a.logger.Warn("Startup health check is critical; continuing",
			zap.String("overall_status", status.OverallStatus.String()))
	}
}

// Registry returns the live operation registry.
func (a *App) Registry() *monitor.Registry { return a.registry }

// Collector returns the metrics collector.
func (a *App) Collector() *metrics.Collector { return a.collector }

// Server returns the web server, or nil when disabled.
func (a *App) Server() *webui.Server { return a.server }

func monitorConfig(cfg *core.Config) monitor.Config {
	mc := monitor.DefaultConfig()
	mc.UpdateInterval = cfg.Monitor.UpdateInterval
	mc.RemovalDelay = cfg.Monitor.RemovalDelay
	mc.HistorySize = cfg.Monitor.HistorySize
	mc.WaitPollInterval = cfg.Monitor.WaitPollInterval
	mc.SinkQueueSize = cfg.Monitor.SinkQueueSize
	mc.ShutdownWait = cfg.Monitor.ShutdownWait
	return mc
}

func metricsConfig(cfg *core.Config) metrics.Config {
	return metrics.Config{
		Retention:     cfg.Metrics.Retention,
		MaxDataPoints: cfg.Metrics.MaxDataPoints,
		SeriesCap:     cfg.Metrics.SeriesCap,
		TopOperations: cfg.Metrics.TopOperations,
		Namespace:     cfg.Metrics.Namespace,
	}
}

func healthConfig(cfg *core.Config) health.Config {
	hc := health.DefaultConfig()
	hc.Timeout = cfg.Health.Timeout
	hc.MaxWorkers = cfg.Health.MaxWorkers
	hc.HistorySize = cfg.Health.HistorySize
	hc.OllamaURL = cfg.Health.OllamaURL
	hc.OpenAIBaseURL = cfg.Health.OpenAIBaseURL
	hc.AnthropicURL = cfg.Health.AnthropicURL
	hc.DiskPath = cfg.Health.DiskPath
	for name, t := range cfg.Health.Thresholds {
		hc.Thresholds[name] = health.Threshold{Warning: t.Warning, Critical: t.Critical}
	}
	return hc
}

func serverConfig(cfg *core.Config, opts health.RunOptions) webui.ServerConfig {
	sc := webui.DefaultServerConfig()
	sc.Host = cfg.WebUI.Host
	sc.Port = cfg.WebUI.Port
	sc.ShutdownTimeout = cfg.ShutdownTimeout
	sc.HealthOptions = opts
	return sc
}
