// Package grid defines the master grid: the single target CRS, resolution,
// and extent every source is resampled onto. Built once per run from
// configuration and never mutated.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/raster"
)

// ErrInvalidConfig marks master grid parameter errors. These are fatal for
// the whole run: continuing would produce a miscalibrated unified dataset.
var ErrInvalidConfig = errors.New("invalid master grid configuration")

// Bounds is a bounding box in the target CRS.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Params configures the master grid.
type Params struct {
	// CRS is the target CRS identifier, e.g. "EPSG:32611".
	CRS string
	// Resolution is the cell size in CRS linear units (meters for UTM).
	Resolution float64
	// Bounds is the spatial extent in the target CRS.
	Bounds Bounds
}

// Grid is the immutable master grid. The embedded raster.Grid carries the
// geometry; Lat/Lon hold the derived 2-D geographic reference arrays.
type Grid struct {
	raster.Grid
	params Params

	lat []float64 // Height*Width, row-major
	lon []float64
}

// New derives the master grid from params. The derivation is deterministic:
// the same params always produce bit-identical coordinate arrays.
func New(params Params) (*Grid, error) {
	if params.Resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution %g must be positive", ErrInvalidConfig, params.Resolution)
	}
	b := params.Bounds
	if b.MaxX <= b.MinX || b.MaxY <= b.MinY {
		return nil, fmt.Errorf("%w: degenerate extent [%g,%g]x[%g,%g]",
			ErrInvalidConfig, b.MinX, b.MaxX, b.MinY, b.MaxY)
	}
	crs, err := proj.Parse(params.CRS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	width := int((b.MaxX - b.MinX) / params.Resolution)
	height := int((b.MaxY - b.MinY) / params.Resolution)
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: extent smaller than one %gm cell", ErrInvalidConfig, params.Resolution)
	}

	g := &Grid{
		Grid: raster.Grid{
			CRS:     crs,
			OriginX: b.MinX,
			OriginY: b.MaxY,
			Dx:      params.Resolution,
			Dy:      params.Resolution,
			Width:   width,
			Height:  height,
		},
		params: params,
	}

	g.lat = make([]float64, width*height)
	g.lon = make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := g.CellCenter(col, row)
			lon, lat := crs.Inverse(x, y)
			g.lon[row*width+col] = lon
			g.lat[row*width+col] = lat
		}
	}
	return g, nil
}

// FromReference derives the extent from an existing raster's grid, snapping
// it outward to whole cells of the requested resolution.
func FromReference(crsCode string, resolution float64, ref raster.Grid) (*Grid, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution %g must be positive", ErrInvalidConfig, resolution)
	}
	crs, err := proj.Parse(crsCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	corners := [][2]int{{0, 0}, {ref.Width - 1, 0}, {0, ref.Height - 1}, {ref.Width - 1, ref.Height - 1}}
	for _, c := range corners {
		x, y := ref.CellCenter(c[0], c[1])
		tx, ty := proj.Transform(ref.CRS, crs, x, y)
		minX, maxX = min(minX, tx), max(maxX, tx)
		minY, maxY = min(minY, ty), max(maxY, ty)
	}

	snap := func(v float64, up bool) float64 {
		cells := v / resolution
		if up {
			return math.Ceil(cells) * resolution
		}
		return math.Floor(cells) * resolution
	}
	return New(Params{
		CRS:        crsCode,
		Resolution: resolution,
		Bounds: Bounds{
			MinX: snap(minX, false),
			MinY: snap(minY, false),
			MaxX: snap(maxX, true),
			MaxY: snap(maxY, true),
		},
	})
}

// Params returns the configuration the grid was built from.
func (g *Grid) Params() Params { return g.params }

// Lat returns the 2-D latitude reference array (row-major, Height*Width).
func (g *Grid) Lat() []float64 { return g.lat }

// Lon returns the 2-D longitude reference array (row-major, Height*Width).
func (g *Grid) Lon() []float64 { return g.lon }
