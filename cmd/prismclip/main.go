// PRISM clip pipeline entry point
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rkm/prism-clip/internal/clip"
	"github.com/rkm/prism-clip/internal/config"
	"github.com/rkm/prism-clip/internal/pipeline"
	"github.com/rkm/prism-clip/internal/prism"
	"github.com/rkm/prism-clip/internal/raster"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration; invalid configuration is fatal before any I/O.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up logger
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting PRISM clip",
		"resolution", string(cfg.Fetch.Resolution),
		"variables", cfg.Fetch.Variables,
		"start", cfg.Fetch.StartDate.String(),
		"end", cfg.Fetch.EndDate.String(),
		"retain_raw", cfg.Fetch.RetainRaw,
	)

	raster.Register()

	// Load and reproject the study-area polygon once; the padded crop box
	// it yields is reused for every raster.
	boundary, err := clip.LoadBoundary(cfg.Paths.BoundaryDir, cfg.Clip.TargetSRS)
	if err != nil {
		return fmt.Errorf("failed to load study area: %w", err)
	}
	box := boundary.CropBox()
	logger.Info("study area loaded",
		"crop_box", fmt.Sprintf("[%.4f %.4f %.4f %.4f]", box.Min.X, box.Min.Y, box.Max.X, box.Max.Y),
	)

	client := prism.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout).WithLogger(logger)
	clipper := clip.NewClipper(boundary, cfg.Clip.TargetSRS)
	p := pipeline.New(cfg, client, clipper, logger)

	// An interrupt stops between units of work; partially processed
	// directories are picked up cleanly by the next run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	fmt.Printf("fetched %d archives (%d already present, %d fetch errors)\n",
		summary.Fetched, summary.Skipped, summary.FetchErrors)
	fmt.Printf("materialized %d datasets (%d failed), output %d bytes\n",
		summary.Materialized, summary.Failed, summary.OutBytes)
	fmt.Printf("deleted %d raw directories, %d bytes saved\n",
		summary.Deleted, summary.BytesSaved())

	if summary.FetchErrors > 0 || summary.Failed > 0 {
		logger.Warn("run finished with failed units; re-run to retry them",
			"fetch_errors", summary.FetchErrors,
			"failed_datasets", summary.Failed,
		)
	}

	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
