package unify

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/geounify/internal/grid"
)

// ErrWriteFailed marks persistence failures. Fatal for the affected output
// file; completed outputs are unaffected.
var ErrWriteFailed = errors.New("unified dataset write failed")

const (
	packFill  = int16(-32768)
	packRange = 65000.0 // usable span of int16 after reserving the fill value
)

// Writer persists unified datasets as NetCDF. Each output file is written
// to a temporary path and renamed into place so a failure never leaves a
// partially-written file at the published path.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// Write persists ds to path. The file carries the master grid coordinates,
// geographic reference arrays, a grid-mapping variable, CF-style variable
// attributes, and global provenance attributes.
func (w *Writer) Write(path string, ds *Dataset) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}

	tmp := path + ".tmp"
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if err := w.writeFile(tmp, ds); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrWriteFailed, path, err)
	}
	w.logger.Info("unified dataset written", "path", path, "blocks", len(ds.Blocks))
	return nil
}

func (w *Writer) writeFile(path string, ds *Dataset) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			cw.Close()
		}
	}()

	if err := cw.AddGlobalAttrs(globalAttrs(ds)); err != nil {
		return err
	}
	if err := addCoordinates(cw, ds.Grid); err != nil {
		return err
	}
	for _, b := range ds.Blocks {
		if err := addBlock(cw, ds.Grid, b); err != nil {
			return err
		}
	}

	closed = true
	return cw.Close()
}

func globalAttrs(ds *Dataset) api.AttributeMap {
	p := ds.Grid.Params()
	sources := ""
	for i, b := range ds.Blocks {
		if i > 0 {
			sources += ", "
		}
		sources += b.Source
	}
	return mustAttrs([]string{
		"title", "Conventions", "source", "crs", "resolution", "created",
	}, map[string]interface{}{
		"title":       ds.Title,
		"Conventions": "CF-1.8",
		"source":      sources,
		"crs":         p.CRS,
		"resolution":  fmt.Sprintf("%gm", p.Resolution),
		"created":     clock.Now().UTC().Format(time.RFC3339),
	})
}

// addCoordinates writes the master grid axes, the 2-D geographic reference
// arrays, and the grid-mapping variable.
func addCoordinates(cw *cdf.CDFWriter, g *grid.Grid) error {
	if err := cw.AddVar("x", api.Variable{
		Values:     g.X(),
		Dimensions: []string{"x"},
		Attributes: mustAttrs(
			[]string{"standard_name", "long_name", "units", "axis"},
			map[string]interface{}{
				"standard_name": "projection_x_coordinate",
				"long_name":     "x coordinate of projection",
				"units":         "m",
				"axis":          "X",
			}),
	}); err != nil {
		return err
	}
	if err := cw.AddVar("y", api.Variable{
		Values:     g.Y(),
		Dimensions: []string{"y"},
		Attributes: mustAttrs(
			[]string{"standard_name", "long_name", "units", "axis"},
			map[string]interface{}{
				"standard_name": "projection_y_coordinate",
				"long_name":     "y coordinate of projection",
				"units":         "m",
				"axis":          "Y",
			}),
	}); err != nil {
		return err
	}

	ny, nx := g.Shape()
	if err := cw.AddVar("latitude", api.Variable{
		Values:     planeTo2D(g.Lat(), ny, nx),
		Dimensions: []string{"y", "x"},
		Attributes: mustAttrs(
			[]string{"standard_name", "units"},
			map[string]interface{}{"standard_name": "latitude", "units": "degrees_north"}),
	}); err != nil {
		return err
	}
	if err := cw.AddVar("longitude", api.Variable{
		Values:     planeTo2D(g.Lon(), ny, nx),
		Dimensions: []string{"y", "x"},
		Attributes: mustAttrs(
			[]string{"standard_name", "units"},
			map[string]interface{}{"standard_name": "longitude", "units": "degrees_east"}),
	}); err != nil {
		return err
	}

	return cw.AddVar("crs", api.Variable{
		Values:     int32(0),
		Dimensions: nil,
		Attributes: mustAttrs(
			[]string{"grid_mapping_name", "epsg_code", "spatial_resolution"},
			map[string]interface{}{
				"grid_mapping_name":  gridMappingName(g.Params().CRS),
				"epsg_code":          g.Params().CRS,
				"spatial_resolution": fmt.Sprintf("%gm", g.Params().Resolution),
			}),
	})
}

func gridMappingName(crsCode string) string {
	switch {
	case len(crsCode) >= 8 && (crsCode[:8] == "EPSG:326" || crsCode[:8] == "EPSG:327"):
		return "transverse_mercator"
	case crsCode == "EPSG:4326":
		return "latitude_longitude"
	default:
		return "unknown"
	}
}

func addBlock(cw *cdf.CDFWriter, g *grid.Grid, b Block) error {
	ny, nx := g.Shape()

	spatialDims := []string{"y", "x"}
	var dims []string
	if b.TimeDim != "" {
		secs := make([]float64, len(b.Times))
		for i, t := range b.Times {
			secs[i] = float64(t.UTC().Unix())
		}
		if err := cw.AddVar(b.TimeDim, api.Variable{
			Values:     secs,
			Dimensions: []string{b.TimeDim},
			Attributes: mustAttrs(
				[]string{"standard_name", "units", "calendar", "axis"},
				map[string]interface{}{
					"standard_name": "time",
					"units":         "seconds since 1970-01-01 00:00:00 UTC",
					"calendar":      "standard",
					"axis":          "T",
				}),
		}); err != nil {
			return err
		}
		dims = append([]string{b.TimeDim}, spatialDims...)
	} else {
		dims = spatialDims
	}

	for _, v := range b.Vars {
		attrs, values := encodeVar(v, b.TimeDim != "", ny, nx)
		if err := cw.AddVar(v.Name, api.Variable{
			Values:     values,
			Dimensions: dims,
			Attributes: attrs,
		}); err != nil {
			return err
		}
	}
	return nil
}

// encodeVar prepares a variable's values and attributes. Unpacked variables
// are stored losslessly as float64 with a NaN fill. Packed variables are
// stored as int16 with CF scale/offset attributes, with the quantization
// step recorded in the lineage attribute.
func encodeVar(v Var, timed bool, ny, nx int) (api.AttributeMap, interface{}) {
	keys := []string{"grid_mapping", "coordinates"}
	vals := map[string]interface{}{
		"grid_mapping": "crs",
		"coordinates":  "latitude longitude",
	}
	addIf := func(key, val string) {
		if val != "" {
			keys = append(keys, key)
			vals[key] = val
		}
	}
	addIf("units", v.Meta.Units)
	addIf("standard_name", v.Meta.StandardName)
	addIf("long_name", v.Meta.LongName)
	addIf("source", v.Meta.Source)
	addIf("processing", v.Meta.Lineage)

	if !v.Meta.Pack {
		if timed {
			return mustAttrs(keys, vals), cubeTo3D(v.Planes, ny, nx)
		}
		return mustAttrs(keys, vals), planeTo2D(v.Planes[0], ny, nx)
	}

	scale, offset := packParams(v.Planes)
	keys = append(keys, "scale_factor", "add_offset", "_FillValue")
	vals["scale_factor"] = scale
	vals["add_offset"] = offset
	vals["_FillValue"] = packFill
	addIf("packing", fmt.Sprintf("int16 quantization, step %g", scale))

	if timed {
		cube := make([][][]int16, len(v.Planes))
		for t, plane := range v.Planes {
			cube[t] = packPlane(plane, ny, nx, scale, offset)
		}
		return mustAttrs(keys, vals), cube
	}
	return mustAttrs(keys, vals), packPlane(v.Planes[0], ny, nx, scale, offset)
}

// packParams derives the scale/offset mapping the full data range onto the
// usable int16 span.
func packParams(planes [][]float64) (scale, offset float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, plane := range planes {
		for _, x := range plane {
			if math.IsNaN(x) {
				continue
			}
			lo, hi = math.Min(lo, x), math.Max(hi, x)
		}
	}
	if lo > hi { // all missing
		return 1, 0
	}
	if lo == hi {
		return 1, lo
	}
	return (hi - lo) / packRange, (hi + lo) / 2
}

func packPlane(plane []float64, ny, nx int, scale, offset float64) [][]int16 {
	out := make([][]int16, ny)
	for j := 0; j < ny; j++ {
		row := make([]int16, nx)
		for i := 0; i < nx; i++ {
			x := plane[j*nx+i]
			if math.IsNaN(x) {
				row[i] = packFill
			} else {
				row[i] = int16(math.Round((x - offset) / scale))
			}
		}
		out[j] = row
	}
	return out
}

func planeTo2D(plane []float64, ny, nx int) [][]float64 {
	out := make([][]float64, ny)
	for j := 0; j < ny; j++ {
		out[j] = plane[j*nx : (j+1)*nx]
	}
	return out
}

func cubeTo3D(planes [][]float64, ny, nx int) [][][]float64 {
	out := make([][][]float64, len(planes))
	for t, plane := range planes {
		out[t] = planeTo2D(plane, ny, nx)
	}
	return out
}

func mustAttrs(keys []string, values map[string]interface{}) api.AttributeMap {
	om, err := util.NewOrderedMap(keys, values)
	if err != nil {
		panic(fmt.Sprintf("attribute map: %v", err))
	}
	return om
}
