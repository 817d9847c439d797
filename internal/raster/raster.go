// Package raster holds the in-memory raster model shared by the parser,
// quality filter, and regridding engine. Missing data is NaN everywhere; no
// sentinel values survive past parsing.
package raster

import (
	"fmt"
	"math"
)

// Raster is one parsed source file (or one level group of it): a set of
// same-shaped variable planes on a common native grid, plus an optional
// per-pixel QA plane.
type Raster struct {
	Grid Grid
	// order preserves insertion order so "first group wins" merges and
	// output variable ordering are deterministic.
	order []string
	vars  map[string][]float64
	// QA is the per-pixel quality plane, nil when the source has none.
	QA []float64
}

// New creates an empty raster on the given grid.
func New(g Grid) *Raster {
	return &Raster{Grid: g, vars: make(map[string][]float64)}
}

// NewFilled creates a raster with the named variables filled with NaN.
func NewFilled(g Grid, names ...string) *Raster {
	r := New(g)
	for _, name := range names {
		plane := make([]float64, g.Width*g.Height)
		for i := range plane {
			plane[i] = math.NaN()
		}
		r.SetVar(name, plane)
	}
	return r
}

// SetVar stores a variable plane (row-major, Height*Width). Setting an
// existing name replaces its data in place without changing its position.
func (r *Raster) SetVar(name string, data []float64) {
	if _, ok := r.vars[name]; !ok {
		r.order = append(r.order, name)
	}
	r.vars[name] = data
}

// Var returns the plane for name, or nil if absent.
func (r *Raster) Var(name string) []float64 { return r.vars[name] }

// VarNames returns variable names in insertion order.
func (r *Raster) VarNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NumVars returns the number of variable planes.
func (r *Raster) NumVars() int { return len(r.order) }

// At returns the value of a variable at (col, row).
func (r *Raster) At(name string, col, row int) float64 {
	return r.vars[name][row*r.Grid.Width+col]
}

// Keep drops every variable not in names. Names absent from the raster are
// ignored. Returns the number of variables kept.
func (r *Raster) Keep(names []string) int {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	kept := r.order[:0]
	for _, n := range r.order {
		if want[n] {
			kept = append(kept, n)
		} else {
			delete(r.vars, n)
		}
	}
	r.order = kept
	return len(kept)
}

// MergeOverride folds other's variables into r. On a name collision the
// variable already in r wins; this mirrors the first-processed-group-wins
// merge of level groups, which is a documented simplification rather than a
// data-quality claim. The grids must be identical.
func (r *Raster) MergeOverride(other *Raster) error {
	if !r.Grid.Equal(other.Grid) {
		return fmt.Errorf("merge rasters: grids differ (%dx%d vs %dx%d)",
			r.Grid.Width, r.Grid.Height, other.Grid.Width, other.Grid.Height)
	}
	for _, name := range other.order {
		if _, exists := r.vars[name]; exists {
			continue
		}
		r.SetVar(name, other.vars[name])
	}
	if r.QA == nil {
		r.QA = other.QA
	}
	return nil
}

// NormalizeLongitude rewrites a geographic raster whose x axis uses the
// [0,360) convention into [-180,180), rolling columns when the extent
// crosses the 180° meridian. Non-geographic rasters are left untouched.
func (r *Raster) NormalizeLongitude() {
	g := r.Grid
	if g.CRS == nil || !g.CRS.Geographic() {
		return
	}
	right := g.OriginX + float64(g.Width)*g.Dx
	if right <= 180 {
		return
	}
	if g.OriginX >= 180 {
		// Whole extent sits east of 180: a plain shift keeps column order.
		r.Grid.OriginX = g.OriginX - 360
		return
	}
	// Extent straddles 180: roll the columns at the wrap point to the front.
	split := int(math.Ceil((180 - g.OriginX) / g.Dx))
	if split <= 0 || split >= g.Width {
		return
	}
	for _, name := range r.order {
		r.vars[name] = rollColumns(r.vars[name], g.Width, g.Height, split)
	}
	if r.QA != nil {
		r.QA = rollColumns(r.QA, g.Width, g.Height, split)
	}
	r.Grid.OriginX = g.OriginX + float64(split)*g.Dx - 360
}

func rollColumns(plane []float64, width, height, split int) []float64 {
	out := make([]float64, len(plane))
	tail := width - split
	for row := 0; row < height; row++ {
		src := plane[row*width : (row+1)*width]
		dst := out[row*width : (row+1)*width]
		copy(dst, src[split:])
		copy(dst[tail:], src[:split])
	}
	return out
}
