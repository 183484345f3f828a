package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"ttlkv/internal/backend"
	"ttlkv/internal/config"
	"ttlkv/internal/logs"
	"ttlkv/internal/mcptools"
	"ttlkv/internal/metrics"
	"ttlkv/internal/store"
	"ttlkv/internal/ttl"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// zap writes to stderr; stdout belongs to the MCP transport.
	logger, err := logs.NewSugar(cfg.Env, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()

	policy := backend.DefaultPolicy()
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

	kvStore := store.New(kv, metricsRegistry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ttl.NewReaper(kvStore, cfg.Expiry.SweepInterval, logger, metricsRegistry).Start(ctx)

	s := server.NewMCPServer(
		"ttlkv",
		version,
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	mcptools.New(kvStore, logger).Register(s)

	logger.Infow("Starting MCP server on stdio", "backend", cfg.Storage.Backend)
	if err := server.ServeStdio(s); err != nil {
		logger.Errorw("MCP server error", "error", err)
	}
}
