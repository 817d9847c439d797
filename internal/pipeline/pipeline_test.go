package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	ncf "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fgb "github.com/tingold/orb-flatgeobuf"

	"github.com/couchcryptid/geounify/internal/adapter/netcdf"
	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/events"
	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/locate"
	"github.com/couchcryptid/geounify/internal/observability"
	"github.com/couchcryptid/geounify/internal/parse"
	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/regrid"
	"github.com/couchcryptid/geounify/internal/temporal"
	"github.com/couchcryptid/geounify/internal/unify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMaster(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.New(grid.Params{
		CRS:        "EPSG:32611",
		Resolution: 3000,
		Bounds:     grid.Bounds{MinX: 300000, MinY: 3700000, MaxX: 330000, MaxY: 3721000},
	})
	require.NoError(t, err)
	return g
}

// writeGeoFixture writes a geographic NetCDF file covering the master
// extent, with one variable at the 2 m level carrying a constant value.
func writeGeoFixture(t *testing.T, path string, value float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)

	// A degree box generously covering the small UTM master grid.
	const n = 40
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = -119.5 + float64(i)*0.025
		ys[i] = 34.0 - float64(i)*0.02
	}
	require.NoError(t, cw.AddVar("x", api.Variable{Values: xs, Dimensions: []string{"x"}}))
	require.NoError(t, cw.AddVar("y", api.Variable{Values: ys, Dimensions: []string{"y"}}))

	plane := make([][]float64, n)
	for j := range plane {
		row := make([]float64, n)
		for i := range row {
			row[i] = value
		}
		plane[j] = row
	}
	attrs, err := util.NewOrderedMap(
		[]string{"typeOfLevel", "level"},
		map[string]interface{}{"typeOfLevel": "heightAboveGround", "level": int32(2)})
	require.NoError(t, err)
	require.NoError(t, cw.AddVar("t2m", api.Variable{
		Values:     plane,
		Dimensions: []string{"y", "x"},
		Attributes: attrs,
	}))
	require.NoError(t, cw.Close())
}

func weatherSpec(root string) SourceSpec {
	return SourceSpec{
		Name:      "weather",
		Root:      root,
		Pattern:   "*hrrr*",
		BatchKey:  locate.YearDirKey,
		Timestamp: temporal.DateDirTime,
		Parse: parse.Config{
			Source: "weather",
			CRS:    proj.Geographic(),
			Filters: []driver.Filter{{
				Name: "2m",
				Keys: map[string]string{
					driver.FilterTypeOfLevel: "heightAboveGround",
					driver.FilterLevel:       "2",
				},
			}},
			Variables: []string{"t2m"},
		},
		Regrid:       regrid.Options{Method: regrid.Bilinear},
		Meta:         map[string]unify.VarMeta{"t2m": {Units: "K"}},
		TimeDim:      "time",
		OutputPrefix: "weather",
	}
}

func newTestPipeline(t *testing.T, master *grid.Grid, specs []SourceSpec, outDir string) *Pipeline {
	t.Helper()
	return New(netcdf.New(), master, specs, 2, outDir,
		testLogger(), observability.NewMetricsForTesting(), events.NewLogSink(testLogger()))
}

func TestRun_EndToEnd(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	days := []string{"20200609", "20200610", "20200611"}
	for i, d := range days {
		writeGeoFixture(t, filepath.Join(root, d, "subset_hrrr.nc"), 280+float64(i))
	}
	// One truncated download: recoverable, batch continues short one step.
	corrupt := filepath.Join(root, "20200612", "subset_hrrr.nc")
	require.NoError(t, os.MkdirAll(filepath.Dir(corrupt), 0o755))
	require.NoError(t, os.WriteFile(corrupt, nil, 0o644))

	p := newTestPipeline(t, master, []SourceSpec{weatherSpec(root)}, outDir)

	require.Error(t, p.CheckReadiness(context.Background()), "not ready before any output")

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesProcessed)
	assert.Equal(t, 1, summary.FilesCorrupted)
	assert.Equal(t, 0, summary.FilesSkipped)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 2, summary.WritesOK, "per-source file plus unified file")
	assert.False(t, summary.Clean())

	require.NoError(t, p.CheckReadiness(context.Background()))

	// The corrupted day is absent from the time axis.
	g, err := ncf.Open(filepath.Join(outDir, "unified_2020.nc"))
	require.NoError(t, err)
	defer g.Close()

	tv, err := g.GetVariable("time")
	require.NoError(t, err)
	secs, ok := tv.Values.([]float64)
	require.True(t, ok)
	assert.Len(t, secs, 3)

	dv, err := g.GetVariable("t2m")
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "y", "x"}, dv.Dimensions)

	_, err = os.Stat(filepath.Join(outDir, "weather_2020.nc"))
	assert.NoError(t, err)
}

func TestRun_DuplicateTimestampLastWins(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	// Two files in the same day directory carry the same timestamp; the
	// later-sorted one replaces the earlier in the assembled series. A
	// single worker keeps processing order equal to path order.
	writeGeoFixture(t, filepath.Join(root, "20200609", "a_hrrr.nc"), 111)
	writeGeoFixture(t, filepath.Join(root, "20200609", "b_hrrr.nc"), 222)

	p := New(netcdf.New(), master, []SourceSpec{weatherSpec(root)}, 1, outDir,
		testLogger(), observability.NewMetricsForTesting(), events.NewLogSink(testLogger()))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesProcessed)

	g, err := ncf.Open(filepath.Join(outDir, "weather_2020.nc"))
	require.NoError(t, err)
	defer g.Close()

	tv, err := g.GetVariable("time")
	require.NoError(t, err)
	assert.Len(t, tv.Values.([]float64), 1, "one time step per distinct timestamp")

	dv, err := g.GetVariable("t2m")
	require.NoError(t, err)
	cube := dv.Values.([][][]float64)
	found := math.NaN()
	for _, row := range cube[0] {
		for _, v := range row {
			if !math.IsNaN(v) {
				found = v
			}
		}
	}
	assert.Equal(t, 222.0, found, "later file wins the duplicate day")
}

func TestRun_WriteFailureScopedToBatch(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	writeGeoFixture(t, filepath.Join(root, "20200609", "subset_hrrr.nc"), 280)
	writeGeoFixture(t, filepath.Join(root, "20210609", "subset_hrrr.nc"), 281)

	// A directory squatting on the 2020 per-source path makes that one
	// write fail; every other batch must still publish.
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "weather_2020.nc"), 0o755))

	p := newTestPipeline(t, master, []SourceSpec{weatherSpec(root)}, outDir)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.WritesFailed)
	assert.Equal(t, 3, summary.WritesOK)
	assert.Equal(t, 2, summary.Batches)
	assert.False(t, summary.Clean())

	for _, name := range []string{"unified_2020.nc", "weather_2021.nc", "unified_2021.nc"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRun_MissingSourceIsRecoverable(t *testing.T) {
	master := testMaster(t)
	p := newTestPipeline(t, master, []SourceSpec{weatherSpec(t.TempDir())},
		filepath.Join(t.TempDir(), "out"))

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MissingSources)
	assert.Zero(t, summary.WritesOK)
}

func TestRun_UnknownFilterKeyIsFatal(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	writeGeoFixture(t, filepath.Join(root, "20200609", "subset_hrrr.nc"), 280)

	spec := weatherSpec(root)
	spec.Parse.Filters = []driver.Filter{{
		Name: "bad",
		Keys: map[string]string{"bandIndex": "1"},
	}}

	p := newTestPipeline(t, master, []SourceSpec{spec}, filepath.Join(t.TempDir(), "out"))
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, driver.ErrUnknownFilterKey)
}

func TestRun_CancelledContext(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	writeGeoFixture(t, filepath.Join(root, "20200609", "subset_hrrr.nc"), 280)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, master, []SourceSpec{weatherSpec(root)},
		filepath.Join(t.TempDir(), "out"))
	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StaticSource(t *testing.T) {
	master := testMaster(t)
	root := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")

	// A static elevation tile; gets mosaicked, derived, and written once.
	writeElevationFixture(t, filepath.Join(root, "N33W120.nc"))

	spec := SourceSpec{
		Name:     "terrain",
		Root:     root,
		Pattern:  "[NS]*",
		BatchKey: locate.SingleKey("static"),
		Parse: parse.Config{
			Source:  "terrain",
			CRS:     proj.Geographic(),
			Filters: []driver.Filter{{Name: "elevation", Keys: map[string]string{driver.FilterSubdataset: "elevation"}}},
		},
		Regrid: regrid.Options{
			Method: regrid.Average,
			Stats:  []regrid.Stat{regrid.Mean, regrid.Std, regrid.Min, regrid.Max},
		},
		OutputPrefix: "terrain",
		Static:       true,
		Derive:       deriveTerrain,
	}

	p := newTestPipeline(t, master, []SourceSpec{spec}, outDir)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, 1, summary.WritesOK)

	g, err := ncf.Open(filepath.Join(outDir, "terrain.nc"))
	require.NoError(t, err)
	defer g.Close()

	for _, name := range []string{"elevation_mean", "elevation_std", "elevation_min", "elevation_max", "slope", "aspect"} {
		v, err := g.GetVariable(name)
		require.NoError(t, err, name)
		assert.Equal(t, []string{"y", "x"}, v.Dimensions, name)
	}
}

func TestRun_VectorSource(t *testing.T) {
	master := testMaster(t)
	outDir := filepath.Join(t.TempDir(), "out")

	// One perimeter active for two days over part of the master grid.
	lon, lat := master.Lon(), master.Lat()
	fire := geojson.NewFeature(orb.Polygon{{
		{lon[0] - 0.001, lat[len(lat)-1] - 0.001},
		{lon[5], lat[len(lat)-1] - 0.001},
		{lon[5], lat[0] + 0.001},
		{lon[0] - 0.001, lat[0] + 0.001},
		{lon[0] - 0.001, lat[len(lat)-1] - 0.001},
	}})
	fire.Properties = geojson.Properties{
		"ALARM_DATE": "2020-06-09",
		"CONT_DATE":  "2020-06-10",
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(fire)

	path := writeFGBFixture(t, fc)

	p := newTestPipeline(t, master, []SourceSpec{CalFireSpec(path)}, outDir)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, 1, summary.WritesOK)

	g, err := ncf.Open(filepath.Join(outDir, "fires_calfire.nc"))
	require.NoError(t, err)
	defer g.Close()

	v, err := g.GetVariable("fire_present")
	require.NoError(t, err)
	assert.Equal(t, []string{"time_fire", "y", "x"}, v.Dimensions)
	assert.Len(t, v.Values.([][][]float64), 2)
}

// writeFGBFixture writes a FlatGeobuf layer for vector-source tests.
// fgb.WriteFeatures assigns property values to columns via independent map
// iterations, so features with multiple properties round-trip with values
// swapped nondeterministically; write-and-verify in a bounded loop until the
// properties survive intact.
func writeFGBFixture(t *testing.T, fc *geojson.FeatureCollection) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perimeters.fgb")
	for attempt := 0; attempt < 50; attempt++ {
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, fgb.WriteFeatures(f, fc, nil))
		require.NoError(t, f.Close())
		reader, err := fgb.NewReader(path)
		require.NoError(t, err)
		got, err := reader.ReadAll()
		require.NoError(t, reader.Close())
		require.NoError(t, err)
		intact := len(got.Features) == len(fc.Features)
		for i, want := range fc.Features {
			if !intact {
				break
			}
			for k, v := range want.Properties {
				if got.Features[i].Properties[k] != v {
					intact = false
					break
				}
			}
		}
		if intact {
			return path
		}
	}
	t.Fatal("writeFGBFixture: properties never survived a round trip")
	return path
}

func TestRun_CorruptedVectorDegrades(t *testing.T) {
	master := testMaster(t)
	path := filepath.Join(t.TempDir(), "garbage.fgb")
	require.NoError(t, os.WriteFile(path, []byte("not a flatgeobuf"), 0o644))

	p := newTestPipeline(t, master, []SourceSpec{CalFireSpec(path)},
		filepath.Join(t.TempDir(), "out"))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesCorrupted)
	assert.Zero(t, summary.WritesOK)
}

// writeElevationFixture writes a dense geographic elevation raster so the
// averaging regrid covers every master cell.
func writeElevationFixture(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)

	const n = 120
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = -119.5 + float64(i)*0.009
		ys[i] = 34.0 - float64(i)*0.007
	}
	require.NoError(t, cw.AddVar("x", api.Variable{Values: xs, Dimensions: []string{"x"}}))
	require.NoError(t, cw.AddVar("y", api.Variable{Values: ys, Dimensions: []string{"y"}}))

	plane := make([][]float64, n)
	for j := range plane {
		row := make([]float64, n)
		for i := range row {
			row[i] = 500 + float64(i)*2 + float64(j)
		}
		plane[j] = row
	}
	require.NoError(t, cw.AddVar("elevation", api.Variable{
		Values:     plane,
		Dimensions: []string{"y", "x"},
	}))
	require.NoError(t, cw.Close())
}
