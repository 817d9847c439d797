// Package netcdf implements driver.Driver over NetCDF files (classic CDF or
// HDF5-backed) using the pure-Go go-native-netcdf reader. Level filters are
// matched against per-variable attributes; subdatasets are the variables of
// the file and its nested groups.
package netcdf

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"
	"strings"

	ncf "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/raster"
)

// Driver reads NetCDF sources. Zero value is ready to use.
type Driver struct{}

// New returns a NetCDF driver.
func New() *Driver { return &Driver{} }

// Open implements driver.Driver. Structural failures (zero-byte files, bad
// magic, truncation) are classified as driver.ErrCorrupted exactly once; the
// caller skips the file and continues its batch.
func (d *Driver) Open(path string, filter driver.Filter) (*raster.Raster, bool, error) {
	if err := validateFilter(filter); err != nil {
		return nil, false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, false, fmt.Errorf("open %s: zero-byte file: %w", path, driver.ErrCorrupted)
	}

	group, err := openGroup(path)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w: %v", path, driver.ErrCorrupted, err)
	}
	defer group.Close()

	matches := collectMatches(group, "", filter)
	if len(matches) == 0 {
		return nil, false, nil
	}

	r, err := buildRaster(group, matches)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w: %v", path, driver.ErrCorrupted, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Subdatasets implements driver.Driver.
func (d *Driver) Subdatasets(path string, substr string) ([]string, error) {
	group, err := openGroup(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, driver.ErrCorrupted, err)
	}
	defer group.Close()

	var names []string
	walkVariables(group, "", func(g api.Group, qualified, name string) {
		if substr == "" || strings.Contains(strings.ToLower(qualified), strings.ToLower(substr)) {
			names = append(names, qualified)
		}
	})
	sort.Strings(names)
	return names, nil
}

// openGroup recovers the panics go-native-netcdf's internals may throw on
// malformed input and converts them into ordinary errors.
func openGroup(path string) (g api.Group, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("malformed file: %v", r)
		}
	}()
	return ncf.Open(path)
}

func validateFilter(f driver.Filter) error {
	for key := range f.Keys {
		switch key {
		case driver.FilterTypeOfLevel, driver.FilterLevel, driver.FilterSubdataset:
		default:
			return fmt.Errorf("filter %q: key %q: %w", f.Name, key, driver.ErrUnknownFilterKey)
		}
	}
	return nil
}

type match struct {
	group     api.Group
	qualified string
	name      string
}

// collectMatches walks the file's variable tree and returns the variables
// the filter selects.
func collectMatches(root api.Group, prefix string, filter driver.Filter) []match {
	var out []match
	walkVariables(root, prefix, func(g api.Group, qualified, name string) {
		if matchesFilter(g, qualified, name, filter) {
			out = append(out, match{group: g, qualified: qualified, name: name})
		}
	})
	return out
}

func walkVariables(g api.Group, prefix string, visit func(g api.Group, qualified, name string)) {
	for _, name := range g.ListVariables() {
		visit(g, prefix+name, name)
	}
	for _, sub := range g.ListSubgroups() {
		child, err := g.GetGroup(sub)
		if err != nil {
			continue
		}
		walkVariables(child, prefix+sub+"/", visit)
	}
}

func matchesFilter(g api.Group, qualified, name string, filter driver.Filter) bool {
	if len(filter.Keys) == 0 {
		return true
	}
	if sub, ok := filter.Keys[driver.FilterSubdataset]; ok {
		if !strings.Contains(strings.ToLower(qualified), strings.ToLower(sub)) {
			return false
		}
	}
	needAttrs := false
	for key := range filter.Keys {
		if key != driver.FilterSubdataset {
			needAttrs = true
		}
	}
	if !needAttrs {
		return true
	}

	v, err := g.GetVarGetter(name)
	if err != nil {
		return false
	}
	attrs := v.Attributes()
	for key, want := range filter.Keys {
		if key == driver.FilterSubdataset {
			continue
		}
		got, ok := attrValue(attrs, key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// attrValue stringifies an attribute, unwrapping single-element slices the
// reader produces for scalar numeric attributes.
func attrValue(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	val, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() == reflect.Slice && rv.Len() == 1 {
		val = rv.Index(0).Interface()
	}
	return fmt.Sprintf("%v", val), true
}

// buildRaster reads the matched variables onto one grid. Variables whose
// shape disagrees with the first-read variable belong to a different level
// group and are dropped; the filter configuration is expected to keep level
// groups apart.
func buildRaster(root api.Group, matches []match) (*raster.Raster, error) {
	var r *raster.Raster
	for _, m := range matches {
		v, err := m.group.GetVariable(m.name)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", m.qualified, err)
		}
		plane, ny, nx, err := toPlane(v.Values)
		if err != nil {
			// Coordinate and scalar variables match broad filters; they are
			// not data planes.
			continue
		}
		applyFillValue(plane, v.Attributes)

		if r == nil {
			g, flip, err := readGrid(root, m.group, v, ny, nx)
			if err != nil {
				return nil, err
			}
			r = raster.New(g)
			if flip {
				flipRows(plane, nx, ny)
			}
			r.SetVar(m.name, plane)
			continue
		}
		if ny != r.Grid.Height || nx != r.Grid.Width {
			continue
		}
		if yAscending(root, m.group, v) {
			flipRows(plane, nx, ny)
		}
		r.SetVar(m.name, plane)
	}
	return r, nil
}

// readGrid derives the native geotransform from the variable's trailing two
// dimension coordinate arrays. Returns flip=true when the y coordinate
// ascends and rows must be reversed into north-up order.
func readGrid(root api.Group, g api.Group, v *api.Variable, ny, nx int) (raster.Grid, bool, error) {
	dims := v.Dimensions
	if len(dims) < 2 {
		return raster.Grid{}, false, fmt.Errorf("variable has %d dimensions, want >= 2", len(dims))
	}
	yDim, xDim := dims[len(dims)-2], dims[len(dims)-1]

	ys, err := coordValues(root, g, yDim)
	if err != nil {
		return raster.Grid{}, false, err
	}
	xs, err := coordValues(root, g, xDim)
	if err != nil {
		return raster.Grid{}, false, err
	}
	if len(ys) != ny || len(xs) != nx {
		return raster.Grid{}, false, fmt.Errorf("coordinate lengths (%d,%d) disagree with data shape (%d,%d)",
			len(ys), len(xs), ny, nx)
	}
	if nx < 2 || ny < 2 {
		return raster.Grid{}, false, fmt.Errorf("degenerate grid %dx%d", nx, ny)
	}

	dx := xs[1] - xs[0]
	dy := ys[1] - ys[0]
	if dx <= 0 {
		return raster.Grid{}, false, fmt.Errorf("x coordinate not ascending")
	}

	grid := raster.Grid{
		Dx:     dx,
		Dy:     math.Abs(dy),
		Width:  nx,
		Height: ny,
	}
	grid.OriginX = xs[0] - dx/2
	flip := dy > 0
	if flip {
		grid.OriginY = ys[ny-1] + dy/2
	} else {
		grid.OriginY = ys[0] + math.Abs(dy)/2
	}

	if code, ok := attrValue(root.Attributes(), "crs"); ok {
		if crs, err := proj.Parse(code); err == nil {
			grid.CRS = crs
		}
	}
	return grid, flip, nil
}

func yAscending(root api.Group, g api.Group, v *api.Variable) bool {
	dims := v.Dimensions
	if len(dims) < 2 {
		return false
	}
	ys, err := coordValues(root, g, dims[len(dims)-2])
	if err != nil || len(ys) < 2 {
		return false
	}
	return ys[1] > ys[0]
}

// coordValues reads a 1-D coordinate variable from the variable's own group
// or, failing that, the file root.
func coordValues(root, g api.Group, dim string) ([]float64, error) {
	for _, cand := range []api.Group{g, root} {
		v, err := cand.GetVariable(dim)
		if err != nil {
			continue
		}
		vals, err := toVector(v.Values)
		if err == nil {
			return vals, nil
		}
	}
	return nil, fmt.Errorf("no coordinate variable for dimension %q", dim)
}

func applyFillValue(plane []float64, attrs api.AttributeMap) {
	for _, key := range []string{"_FillValue", "missing_value"} {
		s, ok := attrValue(attrs, key)
		if !ok {
			continue
		}
		var fill float64
		if _, err := fmt.Sscanf(s, "%g", &fill); err != nil {
			continue
		}
		for i, v := range plane {
			if v == fill {
				plane[i] = math.NaN()
			}
		}
	}
}

func flipRows(plane []float64, nx, ny int) {
	for top, bot := 0, ny-1; top < bot; top, bot = top+1, bot-1 {
		a := plane[top*nx : (top+1)*nx]
		b := plane[bot*nx : (bot+1)*nx]
		for i := range a {
			a[i], b[i] = b[i], a[i]
		}
	}
}

// toPlane converts an arbitrary numeric 2-D slice (or N-D with leading
// singleton dimensions, such as a single band) into a row-major float64
// plane.
func toPlane(values interface{}) (plane []float64, ny, nx int, err error) {
	rv := reflect.ValueOf(values)
	for rv.Kind() == reflect.Slice && rv.Len() == 1 && rv.Index(0).Kind() == reflect.Slice {
		rv = rv.Index(0)
	}
	if rv.Kind() != reflect.Slice || rv.Len() == 0 || rv.Index(0).Kind() != reflect.Slice {
		return nil, 0, 0, fmt.Errorf("not a 2-D numeric array")
	}
	ny = rv.Len()
	nx = rv.Index(0).Len()
	plane = make([]float64, ny*nx)
	for j := 0; j < ny; j++ {
		row := rv.Index(j)
		if row.Len() != nx {
			return nil, 0, 0, fmt.Errorf("ragged rows: %d vs %d", row.Len(), nx)
		}
		for i := 0; i < nx; i++ {
			f, ok := asFloat(row.Index(i))
			if !ok {
				return nil, 0, 0, fmt.Errorf("non-numeric element")
			}
			plane[j*nx+i] = f
		}
	}
	return plane, ny, nx, nil
}

func toVector(values interface{}) ([]float64, error) {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice || (rv.Len() > 0 && rv.Index(0).Kind() == reflect.Slice) {
		return nil, fmt.Errorf("not a 1-D numeric array")
	}
	out := make([]float64, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		f, ok := asFloat(rv.Index(i))
		if !ok {
			return nil, fmt.Errorf("non-numeric element")
		}
		out[i] = f
	}
	return out, nil
}

func asFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return float64(v.Int()), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
