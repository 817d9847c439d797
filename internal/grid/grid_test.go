package grid

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/raster"
)

var testParams = Params{
	CRS:        "EPSG:32611",
	Resolution: 3000,
	Bounds:     Bounds{MinX: 200000, MinY: 3650000, MaxX: 500000, MaxY: 3860000},
}

func TestNew_Shape(t *testing.T) {
	// 300 km x 210 km at 3 km resolution.
	g, err := New(testParams)
	require.NoError(t, err)

	ny, nx := g.Shape()
	assert.Equal(t, 70, ny)
	assert.Equal(t, 100, nx)
	assert.Len(t, g.Lat(), 7000)
	assert.Len(t, g.Lon(), 7000)
}

func TestNew_Deterministic(t *testing.T) {
	a, err := New(testParams)
	require.NoError(t, err)
	b, err := New(testParams)
	require.NoError(t, err)

	assert.True(t, a.Grid.Equal(b.Grid))
	assert.Empty(t, cmp.Diff(a.X(), b.X()))
	assert.Empty(t, cmp.Diff(a.Y(), b.Y()))
	assert.Empty(t, cmp.Diff(a.Lat(), b.Lat()))
	assert.Empty(t, cmp.Diff(a.Lon(), b.Lon()))
}

func TestNew_GeographicReference(t *testing.T) {
	g, err := New(testParams)
	require.NoError(t, err)

	// Southern California sits roughly at 33-35N, 115-120W.
	for i := 0; i < len(g.Lat()); i += 500 {
		assert.Greater(t, g.Lat()[i], 32.0)
		assert.Less(t, g.Lat()[i], 35.5)
		assert.Greater(t, g.Lon()[i], -121.0)
		assert.Less(t, g.Lon()[i], -114.0)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"zero resolution", Params{CRS: "EPSG:32611", Resolution: 0, Bounds: testParams.Bounds}},
		{"negative resolution", Params{CRS: "EPSG:32611", Resolution: -10, Bounds: testParams.Bounds}},
		{"degenerate extent", Params{CRS: "EPSG:32611", Resolution: 3000,
			Bounds: Bounds{MinX: 500000, MinY: 3650000, MaxX: 200000, MaxY: 3860000}}},
		{"unknown crs", Params{CRS: "EPSG:99999", Resolution: 3000, Bounds: testParams.Bounds}},
		{"extent under one cell", Params{CRS: "EPSG:32611", Resolution: 3000,
			Bounds: Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFromReference_SnapsOutward(t *testing.T) {
	ref := raster.Grid{
		CRS:     proj.UTM(11, true),
		OriginX: 201234,
		OriginY: 3857777,
		Dx:      1000,
		Dy:      1000,
		Width:   50,
		Height:  40,
	}

	g, err := FromReference("EPSG:32611", 3000, ref)
	require.NoError(t, err)

	p := g.Params()
	assert.Zero(t, int(p.Bounds.MinX)%3000, "min x snapped to a cell boundary")
	assert.Zero(t, int(p.Bounds.MinY)%3000)
	assert.LessOrEqual(t, p.Bounds.MinX, ref.OriginX)
	assert.GreaterOrEqual(t, p.Bounds.MaxY, ref.OriginY-500, "reference centers covered")
}

func TestFromReference_BadResolution(t *testing.T) {
	_, err := FromReference("EPSG:32611", 0, raster.Grid{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
