// Command genfixtures generates synthetic NetCDF source trees shaped like
// the real weather, vegetation, and elevation archives, so the pipeline can
// run end to end without downloading any data. Values follow smooth
// analytic fields, which makes regridded output easy to eyeball.
//
// Usage:
//
//	go run ./cmd/genfixtures -out data/fixtures -days 3 -corrupt
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/proj"
)

var baseDate = time.Date(2020, time.June, 9, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/fixtures", "output directory for fixture trees")
	days := flag.Int("days", 3, "number of daily weather files to generate")
	cells := flag.Int("cells", 60, "source grid cells per axis")
	corrupt := flag.Bool("corrupt", false, "include one zero-byte weather file")
	flag.Parse()

	master, err := grid.New(grid.Params{
		CRS:        "EPSG:32611",
		Resolution: 3000,
		Bounds:     grid.Bounds{MinX: 200000, MinY: 3650000, MaxX: 500000, MaxY: 3860000},
	})
	if err != nil {
		return err
	}

	if err := genHRRR(filepath.Join(*out, "hrrr"), master, *days, *cells, *corrupt); err != nil {
		return err
	}
	if err := genMODIS(filepath.Join(*out, "modis"), master, *cells); err != nil {
		return err
	}
	if err := genSRTM(filepath.Join(*out, "srtm"), master, *cells); err != nil {
		return err
	}

	fmt.Println("fixtures written to", *out)
	return nil
}

// fixtureVar is one synthetic variable: its value is a smooth function of
// geographic position.
type fixtureVar struct {
	name  string
	attrs map[string]interface{}
	fn    func(lon, lat float64) float64
}

func genHRRR(root string, master *grid.Grid, days, cells int, corrupt bool) error {
	crs := proj.LambertConformal(38.5, 38.5, 38.5, 262.5, 6371229)
	xs, ys := sourceAxes(crs, master, cells)

	vars := []fixtureVar{
		{name: "t2m", attrs: levelAttrs("heightAboveGround", 2), fn: func(lon, lat float64) float64 {
			return 288 + 8*math.Sin(lon/10) + 4*math.Cos(lat/10)
		}},
		{name: "r2", attrs: levelAttrs("heightAboveGround", 2), fn: func(lon, lat float64) float64 {
			return 40 + 20*math.Sin(lat/5)
		}},
		{name: "sh2", attrs: levelAttrs("heightAboveGround", 2), fn: func(lon, lat float64) float64 {
			return 0.006 + 0.002*math.Cos(lon/8)
		}},
		{name: "d2m", attrs: levelAttrs("heightAboveGround", 2), fn: func(lon, lat float64) float64 {
			return 278 + 5*math.Sin(lon/12)
		}},
		{name: "u10", attrs: levelAttrs("heightAboveGround", 10), fn: func(lon, lat float64) float64 {
			return 3 * math.Sin(lat/6)
		}},
		{name: "v10", attrs: levelAttrs("heightAboveGround", 10), fn: func(lon, lat float64) float64 {
			return -2 * math.Cos(lon/6)
		}},
		{name: "max_10si", attrs: levelAttrs("heightAboveGround", 10), fn: func(lon, lat float64) float64 {
			return 6 + 3*math.Sin(lon/4)*math.Cos(lat/4)
		}},
		{name: "prate", attrs: map[string]interface{}{"typeOfLevel": "surface"}, fn: func(lon, lat float64) float64 {
			return math.Max(0, 0.0001*math.Sin(lon/3))
		}},
	}

	for d := 0; d < days; d++ {
		day := baseDate.AddDate(0, 0, d)
		dir := filepath.Join(root, day.Format("20060102"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, "subset_hrrr.t21z.wrfsfcf00.nc")
		if corrupt && d == days-1 {
			// Truncated download stand-in.
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			f.Close()
			continue
		}
		if err := writeRaster(path, crs, xs, ys, vars); err != nil {
			return err
		}
	}
	return nil
}

func genMODIS(root string, master *grid.Grid, cells int) error {
	crs := proj.Sinusoidal(6371007.181)
	xs, ys := sourceAxes(crs, master, cells)

	vars := []fixtureVar{
		{name: "NDVI", attrs: nil, fn: func(lon, lat float64) float64 {
			// Stored as scaled integers, valid range -2000..10000.
			return math.Round(5000 + 3000*math.Sin(lon/2)*math.Cos(lat/2))
		}},
		{name: "EVI", attrs: nil, fn: func(lon, lat float64) float64 {
			return math.Round(3000 + 2000*math.Cos(lon/3))
		}},
		{name: "pixel_reliability", attrs: nil, fn: func(lon, lat float64) float64 {
			// A diagonal stripe of cloudy pixels.
			if math.Mod(lon+lat, 1) < 0.1 {
				return 2
			}
			return 0
		}},
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	doy := baseDate.YearDay()
	name := fmt.Sprintf("MOD13Q1.A%d%03d.h08v05.061.nc", baseDate.Year(), doy)
	return writeRaster(filepath.Join(root, name), crs, xs, ys, vars)
}

func genSRTM(root string, master *grid.Grid, cells int) error {
	crs := proj.Geographic()
	xs, ys := sourceAxes(crs, master, cells)

	vars := []fixtureVar{
		{name: "elevation", attrs: map[string]interface{}{"units": "m"}, fn: func(lon, lat float64) float64 {
			return 500 + 1500*math.Pow(math.Sin(lon*3)*math.Cos(lat*3), 2)
		}},
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return writeRaster(filepath.Join(root, "N33W118.nc"), crs, xs, ys, vars)
}

func levelAttrs(typeOfLevel string, level int32) map[string]interface{} {
	return map[string]interface{}{"typeOfLevel": typeOfLevel, "level": level}
}

// sourceAxes lays out cell-center coordinates in the source CRS covering
// the master grid extent with a half-degree-equivalent margin.
func sourceAxes(crs proj.CRS, master *grid.Grid, cells int) (xs, ys []float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	lats := master.Lat()
	lons := master.Lon()
	for i := range lats {
		x, y := crs.Forward(lons[i], lats[i])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	marginX := (maxX - minX) * 0.05
	marginY := (maxY - minY) * 0.05
	minX, maxX = minX-marginX, maxX+marginX
	minY, maxY = minY-marginY, maxY+marginY

	dx := (maxX - minX) / float64(cells)
	dy := (maxY - minY) / float64(cells)
	xs = make([]float64, cells)
	ys = make([]float64, cells)
	for i := 0; i < cells; i++ {
		xs[i] = minX + dx*(float64(i)+0.5)
		// Descending y keeps the data north-up on disk.
		ys[i] = maxY - dy*(float64(i)+0.5)
	}
	return xs, ys
}

func writeRaster(path string, crs proj.CRS, xs, ys []float64, vars []fixtureVar) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}

	if err := cw.AddGlobalAttrs(attrs([]string{"crs"}, map[string]interface{}{
		"crs": crs.Code(),
	})); err != nil {
		cw.Close()
		return err
	}

	if err := cw.AddVar("x", api.Variable{Values: xs, Dimensions: []string{"x"}}); err != nil {
		cw.Close()
		return err
	}
	if err := cw.AddVar("y", api.Variable{Values: ys, Dimensions: []string{"y"}}); err != nil {
		cw.Close()
		return err
	}

	for _, v := range vars {
		plane := make([][]float64, len(ys))
		for j, y := range ys {
			row := make([]float64, len(xs))
			for i, x := range xs {
				lon, lat := crs.Inverse(x, y)
				row[i] = v.fn(lon, lat)
			}
			plane[j] = row
		}
		keys := make([]string, 0, len(v.attrs))
		for k := range v.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := cw.AddVar(v.name, api.Variable{
			Values:     plane,
			Dimensions: []string{"y", "x"},
			Attributes: attrs(keys, v.attrs),
		}); err != nil {
			cw.Close()
			return err
		}
	}
	return cw.Close()
}

func attrs(keys []string, values map[string]interface{}) api.AttributeMap {
	m, err := util.NewOrderedMap(keys, values)
	if err != nil {
		panic(err)
	}
	return m
}
