// Package pipeline runs the four-stage fetch/reduce/materialize/report flow
// over the configured variables and the dataset directories they produce.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rkm/prism-clip/internal/config"
	"github.com/rkm/prism-clip/internal/dataset"
	"github.com/rkm/prism-clip/internal/fsutil"
	"github.com/rkm/prism-clip/internal/prism"
)

// ErrWrite is returned when writing or copying a dataset's output fails.
// The dataset's raw directory is always retained on this error.
var ErrWrite = errors.New("output write failed")

// Reducer produces a cropped, reprojected copy of the raster at src,
// written to dst in the provider's raster sub-format.
type Reducer interface {
	ReduceFile(src, dst string) error
}

// Summary reports what a run did, for the operator-facing size accounting.
type Summary struct {
	Fetched      int
	Skipped      int
	FetchErrors  int
	Materialized int
	Failed       int
	Deleted      int

	RawBytesBefore int64
	RawBytesAfter  int64
	OutBytes       int64
}

// BytesSaved is the raw-tree shrinkage over the run.
func (s *Summary) BytesSaved() int64 {
	return s.RawBytesBefore - s.RawBytesAfter
}

// Pipeline wires the provider client and the raster reducer to the
// configured filesystem roots. Execution is strictly sequential: one archive
// fetch at a time, one dataset directory materialized at a time.
type Pipeline struct {
	cfg     *config.Config
	client  *prism.Client
	reducer Reducer
	logger  *slog.Logger
}

// New creates a pipeline.
func New(cfg *config.Config, client *prism.Client, reducer Reducer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		client:  client,
		reducer: reducer,
		logger:  logger,
	}
}

// Run executes the full pipeline. Per-unit failures (one variable's fetch,
// one directory's materialization) are logged and counted but do not abort
// the run; only context cancellation does.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	if err := p.fetch(ctx, summary); err != nil {
		return summary, err
	}

	var err error
	summary.RawBytesBefore, err = fsutil.TreeSize(p.cfg.Paths.RawRoot)
	if err != nil {
		return summary, err
	}

	if err := p.materializeAll(ctx, summary); err != nil {
		return summary, err
	}

	summary.RawBytesAfter, err = fsutil.TreeSize(p.cfg.Paths.RawRoot)
	if err != nil {
		return summary, err
	}
	summary.OutBytes, err = fsutil.TreeSize(p.cfg.Paths.OutRoot)
	if err != nil {
		return summary, err
	}

	return summary, nil
}

// fetch downloads every archive implied by the configuration. A request
// failure aborts the rest of that variable's job and moves on to the next
// variable; already-present datasets are skipped using the provider's
// release probe.
func (p *Pipeline) fetch(ctx context.Context, summary *Summary) error {
	if err := os.MkdirAll(p.cfg.Paths.RawRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create raw root %s: %w", p.cfg.Paths.RawRoot, err)
	}

	for _, job := range Jobs(p.cfg) {
		p.logger.Info("fetching variable",
			slog.String("variable", job.Variable),
			slog.String("resolution", string(p.cfg.Fetch.Resolution)),
			slog.Int("requests", len(job.Requests)),
		)

		if err := p.fetchJob(ctx, job, summary); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.FetchErrors++
			p.logger.Error("fetch aborted for variable",
				slog.String("variable", job.Variable),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (p *Pipeline) fetchJob(ctx context.Context, job FetchJob, summary *Summary) error {
	for i := range job.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := &job.Requests[i]

		release, err := p.client.Release(ctx, req)
		if err != nil {
			return err
		}

		dir := filepath.Join(p.cfg.Paths.RawRoot, release.Name)
		if _, err := os.Stat(dir); err == nil {
			summary.Skipped++
			p.logger.Debug("dataset already downloaded",
				slog.String("dataset", release.Name),
			)
			continue
		}

		if _, err := p.client.Download(ctx, req, p.cfg.Paths.RawRoot); err != nil {
			return err
		}
		summary.Fetched++
	}
	return nil
}

// materializeAll reduces and writes every dataset directory under the raw
// root. A failure for one directory retains its raw data and continues.
func (p *Pipeline) materializeAll(ctx context.Context, summary *Summary) error {
	dirs, err := dataset.List(p.cfg.Paths.RawRoot)
	if err != nil {
		return err
	}

	for _, name := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.materialize(name); err != nil {
			summary.Failed++
			p.logger.Error("dataset failed, raw data retained",
				slog.String("dataset", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		summary.Materialized++

		if !p.cfg.Fetch.RetainRaw {
			rawDir := filepath.Join(p.cfg.Paths.RawRoot, name)
			if err := os.RemoveAll(rawDir); err != nil {
				p.logger.Error("failed to delete raw dataset",
					slog.String("dataset", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			summary.Deleted++
		}
	}
	return nil
}

// materialize crops one dataset and mirrors it into the output root:
// the reduced raster plus every metadata sidecar, byte for byte. Deletion of
// the raw directory is the caller's decision and only happens after this
// returns nil.
func (p *Pipeline) materialize(name string) error {
	rawDir := filepath.Join(p.cfg.Paths.RawRoot, name)

	rasterName, err := dataset.PrimaryRaster(rawDir)
	if err != nil {
		return err
	}

	sidecars, err := dataset.Sidecars(rawDir)
	if err != nil {
		return err
	}

	outDir := filepath.Join(p.cfg.Paths.OutRoot, dataset.Stem(rasterName))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrWrite, outDir, err)
	}

	src := filepath.Join(rawDir, rasterName)
	dst := filepath.Join(outDir, rasterName)
	if err := p.reducer.ReduceFile(src, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	for _, sidecar := range sidecars {
		if err := fsutil.CopyFile(filepath.Join(rawDir, sidecar), filepath.Join(outDir, sidecar)); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}

	p.logger.Info("dataset materialized",
		slog.String("dataset", name),
		slog.String("out_dir", outDir),
		slog.Int("sidecars", len(sidecars)),
	)
	return nil
}
