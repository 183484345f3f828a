package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ttlkv/internal/api"
	"ttlkv/internal/backend"
	"ttlkv/internal/config"
	"ttlkv/internal/health"
	"ttlkv/internal/logs"
	"ttlkv/internal/metrics"
	"ttlkv/internal/store"
	"ttlkv/internal/ttl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger, mirrored into the in-memory buffer served at /admin/logs
	bufferLevel := logs.DEBUG
	if cfg.IsProd() {
		bufferLevel = logs.INFO
	}
	logBuffer := logs.NewBuffer(cfg.Ops.LogBuffer, bufferLevel)
	logger, err := logs.NewSugar(cfg.Env, logBuffer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting ttlkv server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"backend", cfg.Storage.Backend,
	)

	// Metrics
	metricsRegistry := metrics.NewRegistry()
	httpMetrics, err := metrics.SetupHTTP(metricsRegistry, "ttlkv")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Backend
	policy := backend.DefaultPolicy()
	policy.Probe.Interval = cfg.Ops.ProbeInterval
	policy.Retry.MaxRetries = cfg.Storage.ConnectRetries

	openCtx, cancelOpen := context.WithTimeout(context.Background(), time.Minute)
	kv, err := backend.Open(openCtx, backend.Config{
		Kind:           backend.Kind(cfg.Storage.Backend),
		BoltPath:       cfg.Storage.BoltPath,
		BoltBucket:     cfg.Storage.BoltBucket,
		RedisURL:       cfg.Storage.RedisURL,
		RedisPrefix:    cfg.Storage.RedisPrefix,
		PostgresDSN:    cfg.Storage.PostgresDSN,
		MigrateOnStart: cfg.Storage.PostgresMigrate,
	}, policy.Retry, logger)
	cancelOpen()
	if err != nil {
		logger.Fatalw("Failed to open backend", "error", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Errorw("Failed to close backend", "error", err)
		}
	}()

	// Store
	kvStore := store.New(kv, metricsRegistry)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	reaper := ttl.NewReaper(kvStore, cfg.Expiry.SweepInterval, logger, metricsRegistry)
	go reaper.Start(workerCtx)

	prober := backend.NewProber(kvStore, policy, logger, metricsRegistry)
	go prober.Start(workerCtx)

	// API
	analyzer := health.NewAnalyzer(
		metricsRegistry,
		logBuffer,
		health.WithBackendStatus(prober, func() any { return prober.Status() }),
	)
	handler := api.NewHandler(kvStore, analyzer, logBuffer, logger)
	middleware := api.NewMiddleware(logger, httpMetrics)

	router := handler.Routes(middleware, metricsRegistry.Handler(), cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		if err := httpMetrics.Shutdown(ctx); err != nil {
			logger.Warnw("Metrics shutdown failed", "error", err)
		}
	}

	stopWorkers()
	logger.Infow("Server stopped")
}
