// Package quality applies per-source validity masks before any numeric
// aggregation. Invalid cells become NaN, never a sentinel number, and scale
// factors are applied strictly after masking so sentinels are never scaled
// into plausible-looking values.
package quality

import (
	"math"

	"github.com/couchcryptid/geounify/internal/raster"
)

// Config is the immutable per-source quality configuration.
type Config struct {
	// ValidValues are the QA codes considered usable. A cell whose QA value
	// is not in this set is masked from every variable.
	ValidValues []float64
	// ScaleFactor multiplies every variable after masking. Zero means no
	// scaling.
	ScaleFactor float64
}

// Report records what the filter actually did, so a run can distinguish
// "masked" from "no QA available" instead of silently assuming all-valid.
type Report struct {
	// Applied is false when the raster carried no QA plane.
	Applied bool
	// MaskedCells is the number of cells invalidated per variable.
	MaskedCells int
	// Scaled is true when a scale factor was applied.
	Scaled bool
}

// Apply masks then scales the raster's variables in place.
func Apply(r *raster.Raster, cfg Config) Report {
	rep := Report{}

	if r.QA != nil && len(cfg.ValidValues) > 0 {
		valid := make(map[float64]bool, len(cfg.ValidValues))
		for _, v := range cfg.ValidValues {
			valid[v] = true
		}
		mask := make([]bool, len(r.QA))
		for i, q := range r.QA {
			mask[i] = valid[q]
			if !mask[i] {
				rep.MaskedCells++
			}
		}
		for _, name := range r.VarNames() {
			plane := r.Var(name)
			for i := range plane {
				if !mask[i] {
					plane[i] = math.NaN()
				}
			}
		}
		rep.Applied = true
	}

	if cfg.ScaleFactor != 0 && cfg.ScaleFactor != 1 {
		for _, name := range r.VarNames() {
			plane := r.Var(name)
			for i := range plane {
				plane[i] *= cfg.ScaleFactor
			}
		}
		rep.Scaled = true
	}
	return rep
}
