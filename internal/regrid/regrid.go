// Package regrid reprojects and resamples a source raster onto the master
// grid. Nearest and bilinear sample at target cell centers for continuous
// fields at comparable resolution; the aggregating method bins every source
// pixel into its target cell and derives mean, std, min, max (and median on
// request) from the same constituent set, so the statistics are mutually
// consistent per cell.
package regrid

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/raster"
)

var (
	// ErrGridMismatch signals that a regridded output does not match the
	// master grid. This cannot happen per-file; it is a fatal configuration
	// error and aborts the run.
	ErrGridMismatch = errors.New("regridded output does not match master grid")

	// ErrNearestDownsample rejects nearest-neighbor resampling when the
	// source is finer than the target: nearest silently discards
	// information and biases aggregate statistics.
	ErrNearestDownsample = errors.New("nearest-neighbor resampling configured for a downsampling operation")
)

// Method selects the resampling algorithm.
type Method int

const (
	// Nearest samples the closest source pixel. Only valid when the source
	// is not finer than the target.
	Nearest Method = iota
	// Bilinear interpolates the four surrounding source pixels, weights
	// renormalized over the valid ones.
	Bilinear
	// Average aggregates all constituent source pixels per target cell.
	Average
)

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Stat is an aggregate statistic produced by the Average method.
type Stat int

const (
	Mean Stat = iota
	Std
	Min
	Max
	Median
)

func (s Stat) String() string {
	switch s {
	case Mean:
		return "mean"
	case Std:
		return "std"
	case Min:
		return "min"
	case Max:
		return "max"
	case Median:
		return "median"
	default:
		return fmt.Sprintf("stat(%d)", int(s))
	}
}

// Options configures one regridding operation.
type Options struct {
	Method Method
	// Stats are the aggregates to produce per variable with Average;
	// ignored otherwise. Empty defaults to [Mean]. With a single Mean the
	// output variable keeps its name; otherwise each statistic gets a
	// "<name>_<stat>" variable.
	Stats []Stat
}

// downsampleSlack tolerates resolution jitter from reprojection before a
// nearest-neighbor operation counts as downsampling.
const downsampleSlack = 1.5

// Regrid resamples src onto the master grid. The output's spatial
// dimensions and coordinates are verified equal to the master grid's before
// it is returned.
func Regrid(src *raster.Raster, master *grid.Grid, opts Options) (*raster.Raster, error) {
	if src.Grid.CRS == nil {
		return nil, fmt.Errorf("%w: source raster has no CRS", ErrGridMismatch)
	}
	if opts.Method == Nearest &&
		src.Grid.CellSizeMeters()*downsampleSlack < master.Grid.CellSizeMeters() {
		return nil, fmt.Errorf("%w: source %.0fm vs target %.0fm",
			ErrNearestDownsample, src.Grid.CellSizeMeters(), master.Grid.CellSizeMeters())
	}

	var out *raster.Raster
	var err error
	switch opts.Method {
	case Nearest, Bilinear:
		out, err = sample(src, master, opts.Method)
	case Average:
		out, err = aggregate(src, master, opts.stats())
	default:
		return nil, fmt.Errorf("%w: unknown resampling method %d", ErrGridMismatch, opts.Method)
	}
	if err != nil {
		return nil, err
	}
	if err := verify(out, master); err != nil {
		return nil, err
	}
	return out, nil
}

func (o Options) stats() []Stat {
	if len(o.Stats) == 0 {
		return []Stat{Mean}
	}
	return o.Stats
}

// verify checks shape and coordinate equality against the master grid. A
// mismatch here means misconfiguration, never a recoverable per-file
// condition.
func verify(out *raster.Raster, master *grid.Grid) error {
	if !out.Grid.Equal(master.Grid) {
		return fmt.Errorf("%w: got %dx%d origin (%g,%g), want %dx%d origin (%g,%g)",
			ErrGridMismatch,
			out.Grid.Width, out.Grid.Height, out.Grid.OriginX, out.Grid.OriginY,
			master.Grid.Width, master.Grid.Height, master.Grid.OriginX, master.Grid.OriginY)
	}
	outX, masterX := out.Grid.X(), master.Grid.X()
	outY, masterY := out.Grid.Y(), master.Grid.Y()
	for i := range masterX {
		if outX[i] != masterX[i] {
			return fmt.Errorf("%w: x coordinate %d differs", ErrGridMismatch, i)
		}
	}
	for j := range masterY {
		if outY[j] != masterY[j] {
			return fmt.Errorf("%w: y coordinate %d differs", ErrGridMismatch, j)
		}
	}
	return nil
}

// sample fills each target cell by evaluating the source at the target cell
// center (nearest or bilinear).
func sample(src *raster.Raster, master *grid.Grid, method Method) (*raster.Raster, error) {
	names := src.VarNames()
	out := raster.NewFilled(master.Grid, names...)

	sg := src.Grid
	for row := 0; row < master.Grid.Height; row++ {
		for col := 0; col < master.Grid.Width; col++ {
			tx, ty := master.Grid.CellCenter(col, row)
			x, y := proj.Transform(master.Grid.CRS, sg.CRS, tx, ty)

			// Fractional pixel coordinates in the source grid.
			fc := (x-sg.OriginX)/sg.Dx - 0.5
			fr := (sg.OriginY-y)/sg.Dy - 0.5

			for _, name := range names {
				plane := src.Var(name)
				var v float64
				if method == Nearest {
					v = sampleNearest(plane, sg, fc, fr)
				} else {
					v = sampleBilinear(plane, sg, fc, fr)
				}
				out.Var(name)[row*master.Grid.Width+col] = v
			}
		}
	}
	return out, nil
}

func sampleNearest(plane []float64, g raster.Grid, fc, fr float64) float64 {
	c := int(math.Round(fc))
	r := int(math.Round(fr))
	if c < 0 || r < 0 || c >= g.Width || r >= g.Height {
		return math.NaN()
	}
	return plane[r*g.Width+c]
}

func sampleBilinear(plane []float64, g raster.Grid, fc, fr float64) float64 {
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	wc := fc - float64(c0)
	wr := fr - float64(r0)

	var sum, wsum float64
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			c, r := c0+dc, r0+dr
			if c < 0 || r < 0 || c >= g.Width || r >= g.Height {
				continue
			}
			v := plane[r*g.Width+c]
			if math.IsNaN(v) {
				continue
			}
			w := (1 - math.Abs(float64(dc)-wc)) * (1 - math.Abs(float64(dr)-wr))
			sum += v * w
			wsum += w
		}
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}

// cellAcc accumulates one target cell's constituent source pixels. The
// running sums make mean/std/min/max independent of pixel order; median
// buffers values only when requested.
type cellAcc struct {
	n          int
	sum, sumSq float64
	min, max   float64
	values     []float64
}

func (a *cellAcc) add(v float64, keepValues bool) {
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.n++
	a.sum += v
	a.sumSq += v * v
	if keepValues {
		a.values = append(a.values, v)
	}
}

func (a *cellAcc) stat(s Stat) float64 {
	if a.n == 0 {
		return math.NaN()
	}
	mean := a.sum / float64(a.n)
	switch s {
	case Mean:
		return mean
	case Std:
		// Population standard deviation; clamped against tiny negative
		// variance from floating-point cancellation.
		variance := a.sumSq/float64(a.n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		return math.Sqrt(variance)
	case Min:
		return a.min
	case Max:
		return a.max
	case Median:
		vals := append([]float64(nil), a.values...)
		sort.Float64s(vals)
		mid := len(vals) / 2
		if len(vals)%2 == 1 {
			return vals[mid]
		}
		return (vals[mid-1] + vals[mid]) / 2
	default:
		return math.NaN()
	}
}

// aggregate bins every valid source pixel into its containing target cell
// and derives all requested statistics from the same constituent set. Cells
// that receive no valid pixel stay NaN, never zero.
func aggregate(src *raster.Raster, master *grid.Grid, stats []Stat) (*raster.Raster, error) {
	names := src.VarNames()
	wantMedian := false
	for _, s := range stats {
		if s == Median {
			wantMedian = true
		}
	}

	out := raster.New(master.Grid)
	mg := master.Grid
	sg := src.Grid

	for _, name := range names {
		plane := src.Var(name)
		accs := make([]cellAcc, mg.Width*mg.Height)

		for row := 0; row < sg.Height; row++ {
			for col := 0; col < sg.Width; col++ {
				v := plane[row*sg.Width+col]
				if math.IsNaN(v) {
					continue
				}
				sx, sy := sg.CellCenter(col, row)
				tx, ty := proj.Transform(sg.CRS, mg.CRS, sx, sy)
				tc, tr, ok := mg.CellIndex(tx, ty)
				if !ok {
					continue
				}
				accs[tr*mg.Width+tc].add(v, wantMedian)
			}
		}

		for _, s := range stats {
			result := make([]float64, mg.Width*mg.Height)
			for i := range accs {
				result[i] = accs[i].stat(s)
			}
			out.SetVar(statVarName(name, s, stats), result)
		}
	}
	return out, nil
}

// statVarName suffixes the variable with the statistic unless the operation
// produces only a mean, in which case the original name is kept.
func statVarName(name string, s Stat, stats []Stat) string {
	name = strings.ToLower(name)
	if len(stats) == 1 && s == Mean {
		return name
	}
	return name + "_" + s.String()
}
