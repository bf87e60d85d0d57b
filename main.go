package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gramsearch/internal/config"
	"gramsearch/internal/index"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	cfg := config.DefaultConfig()

	configPath := flag.String("config", "", "Path to a TOML or YAML config file")
	listen := flag.String("listen", "", "Override the listen address (e.g. :8080)")
	indexPath := flag.String("index-path", "", "Override the index storage directory")
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if envPath := os.Getenv("GRAMSEARCH_INDEX_PATH"); envPath != "" {
		cfg.Paths.IndexDir = envPath
	}

	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *indexPath != "" {
		cfg.Paths.IndexDir = *indexPath
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.Logging.Level)
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	analyzers, err := cfg.NewAnalyzerRegistry(logger)
	if err != nil {
		logger.Error("failed to initialize analyzers", "error", err)
		os.Exit(1)
	}

	bm25K1, bm25B := cfg.ToBM25()
	registry, err := index.NewRegistryWithDefaults(cfg.Paths.IndexDir, index.CreateDefaults{
		Analyzer:  cfg.IndexDefaults.Analyzer,
		BM25:      index.BM25Parameters{K1: bm25K1, B: bm25B},
		Analyzers: analyzers,
	})
	if err != nil {
		logger.Error("failed to initialize index registry", "error", err)
		os.Exit(1)
	}

	engineCfg := indexEngineConfig{
		mergeInterval:  cfg.IndexDefaults.MergeInterval,
		mergeThreshold: cfg.IndexDefaults.MergeThreshold,
		flushThresholds: index.FlushThresholds{
			MaxDocuments: cfg.IndexDefaults.FlushMaxDocs,
			MaxPostings:  cfg.IndexDefaults.FlushMaxPosts,
		},
		analyzeWorkers: cfg.IndexDefaults.AnalyzeWorkers,
		persist:        true,
	}

	telemetry := newTelemetry(ctx, logger, cfg.Metrics.Enabled != nil && *cfg.Metrics.Enabled)
	server := newAPIServer(registry, analyzers, engineCfg, telemetry, logger)

	handler := withJSONHeaders(server.routes())
	handler = withTelemetry(handler, telemetry, cfg.Logging.RequestLogs == nil || *cfg.Logging.RequestLogs)

	logger.Info("gramsearch API listening", "listen", cfg.Server.Listen, "indexPath", cfg.Paths.IndexDir, "analyzers", len(analyzers.Names()))
	if err := serveUntilSignal(&http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, logger); err != nil {
		logger.Error("server stopped", "error", err)
	}

	if err := server.close(); err != nil {
		logger.Error("failed to close indexes", "error", err)
		os.Exit(1)
	}
}

// serveUntilSignal runs srv until it fails or the process receives SIGINT/SIGTERM.
func serveUntilSignal(srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}
