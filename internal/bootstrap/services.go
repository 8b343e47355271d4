package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidora/genjobs/config"
	"github.com/vidora/genjobs/internal/data"
	"github.com/vidora/genjobs/internal/observability/statsd"
	"github.com/vidora/genjobs/internal/orchestrator"
	"github.com/vidora/genjobs/internal/providers"
	"github.com/vidora/genjobs/internal/reconciler"
	"github.com/vidora/genjobs/internal/registry"
	"github.com/vidora/genjobs/internal/tracker"
)

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Providers    *providers.Set
	Registry     *registry.Registry
	Tracker      *tracker.Tracker
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconciler.Service

	JobStore      *data.JobStore
	SnapshotCache *data.RedisSnapshotCache

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// BaseContext parents every polling goroutine; defaults to Background.
	BaseContext context.Context
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "genjobs",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires stores and domain services from their dependencies.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
		cfg.Sanitize()
	}

	observability := buildObservability(logger, cfg.Observability)

	jobStore := data.NewJobStore(deps.DB, data.StoreConfig{Logger: logger})
	snapshotCache := data.NewRedisSnapshotCache(deps.RedisClient, cfg.Redis.SnapshotTTL)

	providerSet, err := providers.NewSet(cfg.Providers, &http.Client{Timeout: cfg.Providers.RequestTimeout})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build provider set: %w", err)
	}

	jobRegistry := registry.New()

	progressTracker, err := tracker.New(tracker.Options{
		Logger:         logger,
		Store:          jobStore,
		Cache:          snapshotCache,
		Metrics:        observability.MetricsSink,
		DebounceWindow: cfg.Tracker.DebounceWindow,
		SnapshotExpiry: cfg.Tracker.SnapshotExpiry,
		TerminalGrace:  cfg.Tracker.TerminalGrace,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build tracker: %w", err)
	}

	jobOrchestrator, err := orchestrator.New(orchestrator.Options{
		Logger:                     logger,
		Providers:                  providerSet,
		Registry:                   jobRegistry,
		Tracker:                    progressTracker,
		Store:                      jobStore,
		Metrics:                    observability.MetricsSink,
		BaseContext:                deps.BaseContext,
		PollInterval:               cfg.Polling.Interval,
		PollMaxAttempts:            cfg.Polling.MaxAttempts,
		PollMaxConsecutiveFailures: cfg.Polling.MaxConsecutiveFailures,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build orchestrator: %w", err)
	}

	reconcilerSvc, err := reconciler.New(reconciler.Options{
		Store:    jobStore,
		State:    progressTracker,
		Resumer:  jobOrchestrator,
		Registry: jobRegistry,
		Config:   cfg.Reconciler,
		Logger:   logger,
		Metrics:  observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reconciler: %w", err)
	}

	return ServiceContainer{
		Providers:     providerSet,
		Registry:      jobRegistry,
		Tracker:       progressTracker,
		Orchestrator:  jobOrchestrator,
		Reconciler:    reconcilerSvc,
		JobStore:      jobStore,
		SnapshotCache: snapshotCache,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore cached snapshots before anything starts serving reads.
	if restored, restoreErr := cfg.Services.Tracker.Restore(serviceCtx); restoreErr != nil {
		logger.Error("restore cached snapshots", "error", restoreErr)
	} else if restored > 0 {
		logger.Info("restored cached snapshots", "count", restored)
	}

	errCh := make(chan error, len(enabledServices)+1)
	backgrounds := make([]backgroundServiceHandle, 0, 2)

	// The tracker loop always runs: every enabled mode depends on it.
	backgrounds = append(backgrounds, launchBackground(serviceCtx, logger, "tracker", func(ctx context.Context) error {
		cfg.Services.Tracker.Run(ctx)
		return nil
	}, errCh))

	if enabledServices[config.ServiceModeReconciler] {
		backgrounds = append(backgrounds, launchBackground(serviceCtx, logger, "reconciler", func(ctx context.Context) error {
			return cfg.Services.Reconciler.Run(ctx)
		}, errCh))
	}

	var httpServer *http.Server
	if enabledServices[config.ServiceModeHTTP] {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
	}

	return waitForShutdown(shutdownDeps{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  httpServer,
		services:    cfg.Services,
		logger:      logger,
		backgrounds: backgrounds,
		grace:       cfg.Config.HTTP.ShutdownGrace,
	})
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	start func(context.Context) error,
	errCh chan<- error,
) backgroundServiceHandle {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := start(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("%s failed: %w", name, err):
			case <-ctx.Done():
			}
		}
	}()
	logger.InfoContext(ctx, "background service started", "service", name)
	return backgroundServiceHandle{name: name, done: done}
}

// shutdownDeps contains dependencies for graceful shutdown.
type shutdownDeps struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	services    ServiceContainer
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	grace       time.Duration
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(deps shutdownDeps) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		deps.logger.Info("shutting down services...")
		deps.cancel()
		return gracefulStop(deps)
	case err := <-deps.errCh:
		deps.logger.Error("service error", "error", err)
		deps.cancel()
		if stopErr := gracefulStop(deps); stopErr != nil {
			deps.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(deps shutdownDeps) error {
	if deps.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  deps.httpServer,
			Grace:   deps.grace,
			Logger:  deps.logger,
		}); err != nil {
			return err
		}
	}

	// Stop every active poller so in-flight goroutines unwind.
	deps.services.Registry.Dispose()

	for _, svc := range deps.backgrounds {
		waitForService(svc.done, svc.name, deps.logger)
	}

	if deps.services.Observability.MetricsSink != nil {
		if err := deps.services.Observability.MetricsSink.Close(); err != nil {
			deps.logger.Warn("close metrics sink", "error", err)
		}
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
