// Package parse turns one physical source file into one clean in-memory
// raster: level groups opened independently to avoid coordinate conflicts,
// merged first-wins, QA plane attached, native CRS assigned, longitude
// convention normalized.
package parse

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/raster"
)

// ErrNoData signals that no configured level group yielded any data for a
// file. Recoverable: the caller skips the file and continues its batch.
var ErrNoData = errors.New("no usable data in file")

// Config is the immutable per-source parsing configuration.
type Config struct {
	// Source names the data source for log context.
	Source string
	// CRS is the source's native CRS, assigned to every parsed raster.
	// Files that declare their own CRS are verified against it.
	CRS proj.CRS
	// Filters are the level groups to extract, opened independently. A
	// filter matching nothing in a particular file is expected, not an
	// error.
	Filters []driver.Filter
	// QAFilter selects the per-pixel quality plane, nil when the source
	// has none.
	QAFilter *driver.Filter
	// Variables restricts the merged raster to these names; empty keeps
	// everything the filters matched.
	Variables []string
}

// Parser converts files into rasters through a format driver.
type Parser struct {
	drv    driver.Driver
	logger *slog.Logger
}

// New creates a Parser.
func New(drv driver.Driver, logger *slog.Logger) *Parser {
	return &Parser{drv: drv, logger: logger}
}

// ParseFile reads one file per cfg. Error classification follows the
// recoverability taxonomy: driver.ErrCorrupted and ErrNoData mean "skip this
// file"; driver.ErrUnknownFilterKey is a configuration mistake and must
// abort the run.
func (p *Parser) ParseFile(path string, cfg Config) (*raster.Raster, error) {
	var merged *raster.Raster

	for _, f := range cfg.Filters {
		part, present, err := p.drv.Open(path, f)
		if err != nil {
			if errors.Is(err, driver.ErrUnknownFilterKey) {
				return nil, err
			}
			if errors.Is(err, driver.ErrCorrupted) {
				p.logger.Warn("corrupted source file, skipping",
					"source", cfg.Source, "path", path, "group", f.Name, "error", err)
				return nil, err
			}
			return nil, fmt.Errorf("parse %s group %s: %w", path, f.Name, err)
		}
		if !present {
			// The level is absent from this particular file. Expected.
			p.logger.Debug("level group absent",
				"source", cfg.Source, "path", path, "group", f.Name)
			continue
		}

		if merged == nil {
			merged = part
			continue
		}
		if err := merged.MergeOverride(part); err != nil {
			// Groups with incompatible native grids stay separate by
			// design; the first-processed group wins the file.
			p.logger.Warn("level group grid differs from first group, dropping",
				"source", cfg.Source, "path", path, "group", f.Name, "error", err)
		}
	}

	if merged == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoData, path)
	}

	if cfg.QAFilter != nil {
		qa, present, err := p.drv.Open(path, *cfg.QAFilter)
		switch {
		case err != nil:
			if errors.Is(err, driver.ErrUnknownFilterKey) {
				return nil, err
			}
			p.logger.Warn("QA layer unreadable, proceeding unmasked",
				"source", cfg.Source, "path", path, "error", err)
		case !present:
			p.logger.Warn("QA layer absent, proceeding unmasked",
				"source", cfg.Source, "path", path, "group", cfg.QAFilter.Name)
		default:
			names := qa.VarNames()
			if len(names) > 0 && qa.Grid.Width == merged.Grid.Width && qa.Grid.Height == merged.Grid.Height {
				merged.QA = qa.Var(names[0])
			}
		}
	}

	if len(cfg.Variables) > 0 {
		if merged.Keep(cfg.Variables) == 0 {
			return nil, fmt.Errorf("%w: %s has none of the configured variables", ErrNoData, path)
		}
	}

	p.assignCRS(merged, cfg, path)
	merged.NormalizeLongitude()
	return merged, nil
}

// assignCRS stamps the source's native CRS onto the raster. A file that
// declares a different CRS is trusted less than the source configuration,
// since archive metadata is routinely missing or wrong; the disagreement is
// logged for the operator.
func (p *Parser) assignCRS(r *raster.Raster, cfg Config, path string) {
	if r.Grid.CRS != nil && cfg.CRS != nil && r.Grid.CRS.Code() != cfg.CRS.Code() {
		p.logger.Warn("file-declared CRS disagrees with source configuration",
			"source", cfg.Source, "path", path,
			"declared", r.Grid.CRS.Code(), "configured", cfg.CRS.Code())
	}
	if cfg.CRS != nil {
		r.Grid.CRS = cfg.CRS
	}
}
