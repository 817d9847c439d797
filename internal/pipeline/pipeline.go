package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/geounify/internal/adapter/perimeter"
	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/events"
	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/locate"
	"github.com/couchcryptid/geounify/internal/observability"
	"github.com/couchcryptid/geounify/internal/parse"
	"github.com/couchcryptid/geounify/internal/quality"
	"github.com/couchcryptid/geounify/internal/raster"
	"github.com/couchcryptid/geounify/internal/regrid"
	"github.com/couchcryptid/geounify/internal/temporal"
	"github.com/couchcryptid/geounify/internal/unify"
)

// Pipeline runs the locate-parse-regrid-assemble-write cycle for a set
// of sources against one master grid.
type Pipeline struct {
	master  *grid.Grid
	specs   []SourceSpec
	workers int
	outDir  string

	parser  *parse.Parser
	gridder *perimeter.Gridder
	writer  *unify.Writer

	logger  *slog.Logger
	metrics *observability.Metrics
	sink    events.Sink
	ready   atomic.Bool
}

// RunSummary reports what one pipeline run did. Skipped files and empty
// batches are gaps, not failures; callers decide how loudly to report them.
type RunSummary struct {
	Sources        int
	Batches        int
	EmptyBatches   int
	MissingSources int
	FilesProcessed int
	FilesCorrupted int
	FilesSkipped   int
	WritesOK       int
	WritesFailed   int
}

// Clean reports whether the run completed without gaps.
func (s *RunSummary) Clean() bool {
	return s.FilesCorrupted == 0 && s.FilesSkipped == 0 &&
		s.EmptyBatches == 0 && s.MissingSources == 0 && s.WritesFailed == 0
}

// New creates a Pipeline over the given sources. workers bounds the
// number of files processed concurrently within a batch.
func New(drv driver.Driver, master *grid.Grid, specs []SourceSpec, workers int, outDir string,
	logger *slog.Logger, metrics *observability.Metrics, sink events.Sink) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		master:  master,
		specs:   specs,
		workers: workers,
		outDir:  outDir,
		parser:  parse.New(drv, logger),
		gridder: perimeter.NewGridder(logger),
		writer:  unify.NewWriter(logger),
		logger:  logger,
		metrics: metrics,
		sink:    sink,
	}
}

// CheckReadiness returns nil once the pipeline has published at least one
// output file, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not written any output yet")
	}
	return nil
}

// Run processes every configured source once and writes per-source and
// unified output files. It returns a non-nil error only for fatal
// conditions: bad configuration or grid violations. Per-file problems and
// failed writes are counted, reported in the summary, and do not stop
// other batches.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	p.logger.Info("pipeline started",
		"sources", len(p.specs), "workers", p.workers, "output_dir", p.outDir)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	summary := &RunSummary{Sources: len(p.specs)}

	// Static and vector sources go first. Their blocks join every
	// unified file and stay resident for the whole run.
	var shared []unify.Block
	var timedSpecs []SourceSpec
	for _, spec := range p.specs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var err error
		switch {
		case spec.Vector:
			err = p.runVector(ctx, spec, &shared, summary)
		case spec.Static:
			err = p.runStatic(ctx, spec, &shared, summary)
		default:
			timedSpecs = append(timedSpecs, spec)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("source %s: %w", spec.Name, err)
		}
	}

	// Timed batches grouped across sources by batch key so each key is
	// processed and published before the next key's rasters are loaded.
	type timedBatch struct {
		spec  SourceSpec
		group locate.Group
	}
	keyed := make(map[string][]timedBatch)
	for _, spec := range timedSpecs {
		groups, err := locate.Locate(spec.Root, spec.Pattern, spec.BatchKey)
		if err != nil {
			if errors.Is(err, locate.ErrNoSourceData) {
				p.missingSource(ctx, spec, summary, err)
				continue
			}
			return summary, fmt.Errorf("source %s: %w", spec.Name, err)
		}
		for _, g := range groups {
			keyed[g.Key] = append(keyed[g.Key], timedBatch{spec: spec, group: g})
		}
	}

	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var blocks []unify.Block
		for _, tb := range keyed[key] {
			block, ok, err := p.runBatch(ctx, tb.spec, tb.group, summary)
			if err != nil {
				return summary, fmt.Errorf("source %s: %w", tb.spec.Name, err)
			}
			if ok {
				blocks = append(blocks, block)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		path := filepath.Join(p.outDir, "unified_"+key+".nc")
		err := p.writeDataset(ctx, path, "unified geospatial dataset", key,
			append(blocks, shared...), summary)
		if err != nil && !errors.Is(err, unify.ErrWriteFailed) {
			return summary, err
		}
	}

	p.logger.Info("pipeline finished",
		"batches", summary.Batches,
		"files_processed", summary.FilesProcessed,
		"files_corrupted", summary.FilesCorrupted,
		"files_skipped", summary.FilesSkipped,
		"writes", summary.WritesOK,
		"writes_failed", summary.WritesFailed,
		"clean", summary.Clean(),
	)
	return summary, nil
}

// runBatch processes one timed batch: per-file stages over the worker
// pool, temporal assembly, per-source output. The returned bool is false
// when the batch produced no data.
func (p *Pipeline) runBatch(ctx context.Context, spec SourceSpec, g locate.Group, summary *RunSummary) (unify.Block, bool, error) {
	summary.Batches++

	series, err := p.processGroup(ctx, spec, g, summary)
	if err != nil {
		return unify.Block{}, false, err
	}
	if series.Len() == 0 {
		p.emptyBatch(ctx, spec, g.Key, summary)
		return unify.Block{}, false, nil
	}
	series.Sort()

	block, err := unify.FromSeries(series, p.master, spec.TimeDim, spec.Rename, spec.Meta)
	if err != nil {
		return unify.Block{}, false, err
	}

	path := filepath.Join(p.outDir, spec.OutputPrefix+"_"+g.Key+".nc")
	err = p.writeDataset(ctx, path, spec.Name, g.Key, []unify.Block{block}, summary)
	if err != nil && !errors.Is(err, unify.ErrWriteFailed) {
		return unify.Block{}, false, err
	}
	return block, true, nil
}

// runStatic processes a source without a time axis: all files form one
// batch and their regridded outputs are mosaicked into a single raster.
func (p *Pipeline) runStatic(ctx context.Context, spec SourceSpec, shared *[]unify.Block, summary *RunSummary) error {
	groups, err := locate.Locate(spec.Root, spec.Pattern, spec.BatchKey)
	if err != nil {
		if errors.Is(err, locate.ErrNoSourceData) {
			p.missingSource(ctx, spec, summary, err)
			return nil
		}
		return err
	}

	for _, g := range groups {
		summary.Batches++

		series, err := p.processGroup(ctx, spec, g, summary)
		if err != nil {
			return err
		}
		if series.Len() == 0 {
			p.emptyBatch(ctx, spec, g.Key, summary)
			continue
		}

		r := mosaic(series)
		if spec.Derive != nil {
			if err := spec.Derive(r); err != nil {
				return err
			}
		}

		block, err := unify.StaticBlock(spec.Name, r, p.master, spec.Rename, spec.Meta)
		if err != nil {
			return err
		}

		path := filepath.Join(p.outDir, spec.OutputPrefix+".nc")
		if err := p.writeDataset(ctx, path, spec.Name, g.Key, []unify.Block{block}, summary); err != nil {
			if !errors.Is(err, unify.ErrWriteFailed) {
				return err
			}
		}
		*shared = append(*shared, block)
	}
	return nil
}

// runVector grids one polygon source into a daily presence series. A
// corrupted vector file degrades the run rather than aborting it.
func (p *Pipeline) runVector(ctx context.Context, spec SourceSpec, shared *[]unify.Block, summary *RunSummary) error {
	summary.Batches++

	series, err := p.gridder.GridFile(spec.Root, p.master, spec.Perimeter)
	if err != nil {
		if errors.Is(err, driver.ErrCorrupted) {
			summary.FilesCorrupted++
			p.metrics.FilesCorrupted.Inc()
			p.publish(ctx, events.Event{
				Kind: events.FileCorrupted, Source: spec.Name,
				Path: spec.Root, Stage: "grid", Detail: err.Error(), Time: time.Now(),
			})
			return nil
		}
		return err
	}
	if series.Len() == 0 {
		p.emptyBatch(ctx, spec, "all", summary)
		return nil
	}

	summary.FilesProcessed++
	p.metrics.FilesProcessed.Inc()

	block, err := unify.FromSeries(series, p.master, spec.TimeDim, spec.Rename, spec.Meta)
	if err != nil {
		return err
	}

	path := filepath.Join(p.outDir, spec.OutputPrefix+".nc")
	if err := p.writeDataset(ctx, path, spec.Name, "all", []unify.Block{block}, summary); err != nil {
		if !errors.Is(err, unify.ErrWriteFailed) {
			return err
		}
	}
	*shared = append(*shared, block)
	return nil
}

type fileResult struct {
	path string
	t    time.Time
	r    *raster.Raster
	err  error
}

// processGroup runs the per-file stages for one batch over a fixed pool
// of workers and collects the surviving rasters into a series.
func (p *Pipeline) processGroup(ctx context.Context, spec SourceSpec, g locate.Group, summary *RunSummary) (*temporal.Series, error) {
	jobs := make(chan string)
	results := make(chan fileResult)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- p.processFile(spec, g.Key, path)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range g.Paths {
			select {
			case <-ctx.Done():
				return
			case jobs <- path:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	series := temporal.NewSeries(spec.Name)
	var fatal error
	for res := range results {
		if res.err != nil {
			if fatal == nil && isFatal(res.err) {
				fatal = res.err
			}
			if !isFatal(res.err) {
				p.skipFile(ctx, spec, g.Key, res.path, res.err, summary)
			}
			continue
		}
		summary.FilesProcessed++
		p.metrics.FilesProcessed.Inc()
		p.publish(ctx, events.Event{
			Kind: events.FileProcessed, Source: spec.Name,
			Batch: g.Key, Path: res.path, Time: time.Now(),
		})
		series.Add(res.t, res.r)
	}

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

// processFile runs parse, quality masking, regrid, and timestamp
// extraction for a single file.
func (p *Pipeline) processFile(spec SourceSpec, batch, path string) fileResult {
	start := time.Now()

	r, err := p.parser.ParseFile(path, spec.Parse)
	if err != nil {
		return fileResult{path: path, err: fmt.Errorf("parse: %w", err)}
	}

	if spec.Quality != nil {
		rep := quality.Apply(r, *spec.Quality)
		if rep.Applied {
			p.logger.Debug("quality mask applied",
				"source", spec.Name, "path", path, "masked_cells", rep.MaskedCells)
		}
	}

	out, err := regrid.Regrid(r, p.master, spec.Regrid)
	if err != nil {
		return fileResult{path: path, err: fmt.Errorf("regrid: %w", err)}
	}

	var t time.Time
	if spec.Timestamp != nil {
		t, err = spec.Timestamp(path)
		if err != nil {
			return fileResult{path: path, err: fmt.Errorf("timestamp: %w", err)}
		}
	}

	p.metrics.FileDuration.Observe(time.Since(start).Seconds())
	return fileResult{path: path, t: t, r: out}
}

// writeDataset merges blocks and publishes one output file. A failed
// write is counted and reported but scoped to this file: the returned
// unify.ErrWriteFailed lets callers move on to the next batch.
func (p *Pipeline) writeDataset(ctx context.Context, path, title, batch string, blocks []unify.Block, summary *RunSummary) error {
	ds, err := unify.Merge(title, p.master, blocks...)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.writer.Write(path, ds); err != nil {
		summary.WritesFailed++
		p.metrics.WritesFailed.Inc()
		p.publish(ctx, events.Event{
			Kind: events.WriteFailed, Batch: batch, Path: path,
			Stage: "write", Detail: err.Error(), Time: time.Now(),
		})
		return err
	}

	summary.WritesOK++
	p.metrics.WritesOK.Inc()
	p.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	p.publish(ctx, events.Event{
		Kind: events.WriteOK, Batch: batch, Path: path, Time: time.Now(),
	})
	p.ready.Store(true)

	p.logger.Info("output written", "path", path, "batch", batch, "vars", countVars(ds))
	return nil
}

func (p *Pipeline) skipFile(ctx context.Context, spec SourceSpec, batch, path string, err error, summary *RunSummary) {
	kind := events.FileSkipped
	if errors.Is(err, driver.ErrCorrupted) {
		kind = events.FileCorrupted
		summary.FilesCorrupted++
		p.metrics.FilesCorrupted.Inc()
	} else {
		summary.FilesSkipped++
		p.metrics.FilesSkipped.Inc()
	}
	p.logger.Warn("file skipped",
		"source", spec.Name, "batch", batch, "path", path, "error", err)
	p.publish(ctx, events.Event{
		Kind: kind, Source: spec.Name, Batch: batch,
		Path: path, Detail: err.Error(), Time: time.Now(),
	})
}

func (p *Pipeline) missingSource(ctx context.Context, spec SourceSpec, summary *RunSummary, err error) {
	summary.MissingSources++
	p.metrics.GroupsMissing.Inc()
	p.logger.Warn("source has no data", "source", spec.Name, "root", spec.Root, "error", err)
	p.publish(ctx, events.Event{
		Kind: events.GroupMissing, Source: spec.Name,
		Path: spec.Root, Detail: err.Error(), Time: time.Now(),
	})
}

func (p *Pipeline) emptyBatch(ctx context.Context, spec SourceSpec, key string, summary *RunSummary) {
	summary.EmptyBatches++
	p.metrics.BatchesEmpty.Inc()
	p.logger.Warn("batch produced no usable data", "source", spec.Name, "batch", key)
	p.publish(ctx, events.Event{
		Kind: events.BatchEmpty, Source: spec.Name, Batch: key, Time: time.Now(),
	})
}

func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, ev); err != nil {
		p.logger.Warn("event publish failed", "kind", ev.Kind, "error", err)
	}
}

// isFatal reports whether a per-file error indicates a configuration or
// grid problem that would recur on every file.
func isFatal(err error) bool {
	return errors.Is(err, driver.ErrUnknownFilterKey) ||
		errors.Is(err, regrid.ErrGridMismatch) ||
		errors.Is(err, regrid.ErrNearestDownsample)
}

// mosaic merges the rasters of a static series cell by cell, first
// valid value wins. Tiles cover disjoint areas, so order only matters
// on shared edges.
func mosaic(s *temporal.Series) *raster.Raster {
	slices := s.Slices()
	base := slices[0].Raster
	for _, sl := range slices[1:] {
		for _, name := range base.VarNames() {
			dst := base.Var(name)
			src := sl.Raster.Var(name)
			if src == nil {
				continue
			}
			for i, v := range dst {
				if math.IsNaN(v) && !math.IsNaN(src[i]) {
					dst[i] = src[i]
				}
			}
		}
	}
	return base
}

func countVars(ds *unify.Dataset) int {
	n := 0
	for _, b := range ds.Blocks {
		n += len(b.Vars)
	}
	return n
}
