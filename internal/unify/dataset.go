// Package unify assembles per-source time series that already share the
// master grid into one self-describing dataset and persists it atomically.
// Sources with different cadences keep independent time axes; nothing is
// interpolated onto a shared axis unless a future configuration asks for it.
package unify

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/raster"
	"github.com/couchcryptid/geounify/internal/temporal"
)

// ErrGridMismatch signals a block whose spatial grid is not the master
// grid. Merging it would break the exact-coordinate-equality contract every
// downstream consumer depends on.
var ErrGridMismatch = errors.New("block grid does not match master grid")

// VarMeta is the CF-style description attached to an output variable.
type VarMeta struct {
	Units        string
	StandardName string
	LongName     string
	// Source names the originating product, e.g. "NOAA HRRR Model".
	Source string
	// Lineage documents the processing applied, e.g. the resampling method.
	Lineage string
	// Pack stores the variable as scale/offset int16 instead of float64.
	// Documented lossy compression; leave false for lossless output.
	Pack bool
}

// Var is one output variable: a stack of planes, one per time step, or a
// single plane for static variables.
type Var struct {
	Name   string
	Planes [][]float64
	Meta   VarMeta
}

// Block is one source's contribution: a set of variables sharing one time
// axis (or no time axis, for static sources like terrain).
type Block struct {
	Source string
	// TimeDim names the block's time dimension. Empty for static blocks.
	// Distinct cadences get distinct dimension names in the merged file.
	TimeDim string
	Times   []time.Time
	Vars    []Var
}

// Dataset is the merged, grid-aligned result ready for persistence.
type Dataset struct {
	Title  string
	Grid   *grid.Grid
	Blocks []Block
}

// FromSeries converts a sorted temporal series into a Block, checking every
// slice against the master grid and applying per-variable metadata. The
// rename map translates regridder output names to published names.
func FromSeries(s *temporal.Series, master *grid.Grid, timeDim string, rename map[string]string, meta map[string]VarMeta) (Block, error) {
	b := Block{Source: s.Source, TimeDim: timeDim, Times: s.Times()}

	slices := s.Slices()
	if len(slices) == 0 {
		return Block{}, fmt.Errorf("series %s: no slices", s.Source)
	}

	var names []string
	for i, sl := range slices {
		if err := checkGrid(sl.Raster.Grid, master); err != nil {
			return Block{}, fmt.Errorf("series %s slice %d: %w", s.Source, i, err)
		}
		if i == 0 {
			names = sl.Raster.VarNames()
		}
	}

	for _, name := range names {
		v := Var{Name: published(name, rename), Meta: meta[published(name, rename)]}
		for _, sl := range slices {
			plane := sl.Raster.Var(name)
			if plane == nil {
				return Block{}, fmt.Errorf("series %s: variable %q missing from a slice", s.Source, name)
			}
			v.Planes = append(v.Planes, plane)
		}
		b.Vars = append(b.Vars, v)
	}
	return b, nil
}

// StaticBlock wraps a single timeless raster (terrain) into a Block.
func StaticBlock(source string, r *raster.Raster, master *grid.Grid, rename map[string]string, meta map[string]VarMeta) (Block, error) {
	if err := checkGrid(r.Grid, master); err != nil {
		return Block{}, fmt.Errorf("static block %s: %w", source, err)
	}
	b := Block{Source: source}
	for _, name := range r.VarNames() {
		pub := published(name, rename)
		b.Vars = append(b.Vars, Var{Name: pub, Planes: [][]float64{r.Var(name)}, Meta: meta[pub]})
	}
	return b, nil
}

// Merge combines blocks onto one dataset. Variables are merged, not values:
// each block keeps its own data and time axis. Blocks must already share the
// master grid; a mismatch is fatal, never repaired here.
func Merge(title string, master *grid.Grid, blocks ...Block) (*Dataset, error) {
	ds := &Dataset{Title: title, Grid: master}
	seenDims := map[string]int{}
	seenVars := map[string]string{}
	for _, b := range blocks {
		if b.TimeDim != "" {
			if n, ok := seenDims[b.TimeDim]; ok && n != len(b.Times) {
				return nil, fmt.Errorf("merge: time dimension %q has conflicting lengths %d and %d",
					b.TimeDim, n, len(b.Times))
			}
			seenDims[b.TimeDim] = len(b.Times)
		}
		for _, v := range b.Vars {
			if prev, ok := seenVars[v.Name]; ok {
				return nil, fmt.Errorf("merge: variable %q provided by both %s and %s", v.Name, prev, b.Source)
			}
			seenVars[v.Name] = b.Source
		}
		ds.Blocks = append(ds.Blocks, b)
	}
	return ds, nil
}

func checkGrid(g raster.Grid, master *grid.Grid) error {
	if !g.Equal(master.Grid) {
		return ErrGridMismatch
	}
	return nil
}

func published(name string, rename map[string]string) string {
	if out, ok := rename[name]; ok {
		return out
	}
	return name
}
