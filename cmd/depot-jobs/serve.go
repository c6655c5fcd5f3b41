package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"depot/internal/api"
	"depot/internal/config"
	"depot/internal/events"
	"depot/internal/health"
	"depot/internal/job"
	"depot/internal/jobrunner"
	"depot/internal/observability"
	"depot/pkg/cloudevent"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	// Load configuration
	svcCfg := config.LoadServiceConfig()
	jobCfg := config.LoadJobConfig()
	locCfg := config.LoadLocalizationConfig()
	eventsCfg := events.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, svcCfg, locCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Natural languages must pass their consistency check before serving
	languages, err := newLanguageService(ctx, st.languages, locCfg, metrics)
	if err != nil {
		return err
	}

	// Job events are published only when NATS is configured
	var (
		listener   job.Listener
		dispatcher *events.Dispatcher
		conn       *nats.Conn
	)
	if svcCfg.NATSURL != "" {
		conn, err = events.Connect(svcCfg.NATSURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		dispatcher = events.NewDispatcher(eventsCfg, cloudevent.NewNATSPublisher(conn, eventsCfg.SigningKey), metrics)
		listener = events.NewJobPublisher(dispatcher)
		slog.Info("Publishing job events", "subjectPrefix", eventsCfg.SubjectPrefix)
	} else {
		slog.Warn("Job events disabled - no NATS_URL configured")
	}

	// Create job service
	jobService, err := job.NewService(job.Config{
		Store: st.data,
		Registrations: jobrunner.Registrations(jobrunner.Dependencies{
			Languages:  languages,
			Icons:      st.icons,
			Categories: st.categories,
		}),
		Workers:   jobCfg.Workers,
		QueueSize: jobCfg.QueueSize,
		Retention: jobCfg.Retention,
		Listener:  listener,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	if err := jobService.StartMaintenance(jobCfg.MaintenanceSchedule); err != nil {
		return err
	}

	// Create health checker
	healthChecker := health.NewChecker().Require("jobs", health.ReadyFunc(jobService.Ready))
	if st.db != nil {
		healthChecker.Require("database", health.ReadyFunc(st.db.PingContext))
	}
	if conn != nil {
		healthChecker.Optional("events", health.ReadyFunc(func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats connection is " + conn.Status().String())
			}
			return nil
		}))
	}

	var limiter *rate.Limiter
	if svcCfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(svcCfg.SubmitRate), svcCfg.SubmitBurst)
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:      jobService,
		LanguageService: languages,
		Metrics:         metrics,
		HealthChecker:   healthChecker,
		APIKey:          svcCfg.APIKey,
		SubmitLimiter:   limiter,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server. Immediate and await requests hold the connection
	// while jobs run, so writes get a longer timeout than reads.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		closeJobs(jobService, 5*time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Let queued and running jobs finish so their events are emitted
	closeJobs(jobService, 30*time.Second)

	// Phase 4: Drain event dispatcher
	if dispatcher != nil {
		slog.Info("Draining event dispatcher")
		dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dispatcherCancel()
		if err := dispatcher.Close(dispatcherCtx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}

		stats := dispatcher.Stats()
		slog.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
			"openSubjects", stats.OpenSubjects,
		)
	}

	slog.Info("Shutdown complete")
	return nil
}

func closeJobs(jobService *job.Service, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Draining job service")
	if err := jobService.Close(ctx); err != nil {
		slog.Warn("Job service shutdown error", "error", err)
	}

	stats := jobService.Stats()
	slog.Info("Job stats",
		"submitted", stats.Submitted,
		"coalesced", stats.Coalesced,
		"expired", stats.Expired,
	)
}
