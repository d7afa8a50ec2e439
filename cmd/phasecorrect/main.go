package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/storm-phase-correct/internal/adapter/gridserver"
	httpadapter "github.com/couchcryptid/storm-phase-correct/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-phase-correct/internal/adapter/kafka"
	"github.com/couchcryptid/storm-phase-correct/internal/config"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
	"github.com/couchcryptid/storm-phase-correct/internal/pipeline"
	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
	"github.com/couchcryptid/storm-phase-correct/internal/workpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	params, err := config.LoadEngineParams(cfg.EngineParamsFile)
	if err != nil {
		logger.Error("failed to load engine params", "error", err, "path", cfg.EngineParamsFile)
		os.Exit(1)
	}

	pool, err := workpool.New(cfg.WorkerCount, logger)
	if err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}
	metrics.WorkerPoolSize.Set(float64(pool.Size()))
	observability.RegisterQueueDepth(pool.QueueDepth)

	engine, err := pyramid.NewController(params, pool, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	logger.Info("engine configured",
		"fields", params.FieldNames(),
		"workers", pool.Size(),
		"run_timeout", cfg.RunTimeout,
	)

	client := gridserver.NewClient(cfg.GridServerURL, cfg.GridServerTimeout, metrics, logger)
	source := gridserver.NewCachedSource(client, cfg.GridCacheSize, metrics)
	logger.Info("grid server configured", "url", cfg.GridServerURL, "cache_size", cfg.GridCacheSize)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	corrector := pipeline.NewCorrector(source, engine, metrics, logger, cfg.RunTimeout)

	p := pipeline.New(reader, corrector, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, corrector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	pool.Close()

	logger.Info("shutdown complete", "runs", engine.Totals().Runs)
}
