package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/geounify/internal/raster"
)

func newRaster(vals, qa []float64) *raster.Raster {
	r := raster.New(raster.Grid{Width: len(vals), Height: 1})
	r.SetVar("ndvi", vals)
	r.QA = qa
	return r
}

func TestApply_MasksInvalidCells(t *testing.T) {
	r := newRaster(
		[]float64{1000, 2000, 3000, 4000},
		[]float64{0, 1, 0, 2},
	)

	rep := Apply(r, Config{ValidValues: []float64{0}})

	assert.True(t, rep.Applied)
	assert.Equal(t, 2, rep.MaskedCells)
	assert.False(t, rep.Scaled)

	plane := r.Var("ndvi")
	assert.Equal(t, 1000.0, plane[0])
	assert.True(t, math.IsNaN(plane[1]))
	assert.Equal(t, 3000.0, plane[2])
	assert.True(t, math.IsNaN(plane[3]))
}

func TestApply_MaskBeforeScale(t *testing.T) {
	// The sentinel-like value in a masked cell must never be scaled into a
	// plausible number.
	r := newRaster(
		[]float64{5000, -3000},
		[]float64{0, 3},
	)

	rep := Apply(r, Config{ValidValues: []float64{0}, ScaleFactor: 0.0001})

	assert.True(t, rep.Applied)
	assert.True(t, rep.Scaled)

	plane := r.Var("ndvi")
	assert.InDelta(t, 0.5, plane[0], 1e-12)
	assert.True(t, math.IsNaN(plane[1]))
}

func TestApply_NoQA(t *testing.T) {
	r := newRaster([]float64{1, 2}, nil)

	rep := Apply(r, Config{ValidValues: []float64{0}})

	assert.False(t, rep.Applied, "no QA plane means nothing was masked")
	assert.Equal(t, 0, rep.MaskedCells)
	assert.Equal(t, []float64{1, 2}, r.Var("ndvi"))
}

func TestApply_ScaleOnly(t *testing.T) {
	r := newRaster([]float64{100, 200}, nil)

	rep := Apply(r, Config{ScaleFactor: 0.01})

	assert.False(t, rep.Applied)
	assert.True(t, rep.Scaled)
	assert.Equal(t, []float64{1, 2}, r.Var("ndvi"))
}

func TestApply_UnitScaleFactorSkipped(t *testing.T) {
	r := newRaster([]float64{100}, nil)
	rep := Apply(r, Config{ScaleFactor: 1})
	assert.False(t, rep.Scaled)
}
