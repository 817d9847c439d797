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

	httpadapter "github.com/couchcryptid/geounify/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/geounify/internal/adapter/kafka"
	"github.com/couchcryptid/geounify/internal/adapter/netcdf"
	"github.com/couchcryptid/geounify/internal/config"
	"github.com/couchcryptid/geounify/internal/events"
	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/observability"
	"github.com/couchcryptid/geounify/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	master, err := grid.New(grid.Params{
		CRS:        cfg.GridCRS,
		Resolution: cfg.GridResolution,
		Bounds: grid.Bounds{
			MinX: cfg.GridBounds[0], MinY: cfg.GridBounds[1],
			MaxX: cfg.GridBounds[2], MaxY: cfg.GridBounds[3],
		},
	})
	if err != nil {
		logger.Error("failed to build master grid", "error", err)
		os.Exit(1)
	}
	ny, nx := master.Shape()
	logger.Info("master grid ready",
		"crs", cfg.GridCRS, "resolution", cfg.GridResolution, "shape", []int{ny, nx})

	var specs []pipeline.SourceSpec
	if cfg.HRRRDir != "" {
		specs = append(specs, pipeline.HRRRSpec(cfg.HRRRDir))
	}
	if cfg.MODISDir != "" {
		specs = append(specs, pipeline.MODISSpec(cfg.MODISDir))
	}
	if cfg.SRTMDir != "" {
		specs = append(specs, pipeline.SRTMSpec(cfg.SRTMDir))
	}
	if cfg.CalFirePath != "" {
		specs = append(specs, pipeline.CalFireSpec(cfg.CalFirePath))
	}

	// Events go to the log always, and to Kafka when brokers are set.
	sink := events.Sink(events.NewLogSink(logger))
	if len(cfg.EventBrokers) > 0 {
		ks := kafkaadapter.NewSink(cfg.EventBrokers, cfg.EventTopic, logger)
		sink = events.Multi{sink, ks}
		logger.Info("kafka event sink enabled", "topic", cfg.EventTopic)
	}

	p := pipeline.New(netcdf.New(), master, specs, cfg.Workers, cfg.OutputDir,
		logger, metrics, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.MetricsAddr != "" {
		srv = httpadapter.NewServer(cfg.MetricsAddr, p, master, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	summary, runErr := p.Run(ctx)

	logger.Info("run summary",
		"sources", summary.Sources,
		"batches", summary.Batches,
		"empty_batches", summary.EmptyBatches,
		"missing_sources", summary.MissingSources,
		"files_processed", summary.FilesProcessed,
		"files_corrupted", summary.FilesCorrupted,
		"files_skipped", summary.FilesSkipped,
		"writes_ok", summary.WritesOK,
		"writes_failed", summary.WritesFailed,
	)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		cancel()
	}
	if err := sink.Close(); err != nil {
		logger.Error("event sink close error", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("pipeline failed", "error", runErr)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
