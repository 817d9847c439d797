// Command gridinfo prints the master grid a given configuration would
// produce: shape, extent, cell size, and the geographic coordinates of the
// corners. Run it before a long batch to confirm the configured grid covers
// the intended region.
//
// Usage:
//
//	go run ./cmd/gridinfo -crs EPSG:32611 -resolution 3000 \
//	    -bounds 200000,3650000,500000,3860000
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/couchcryptid/geounify/internal/grid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	crs := flag.String("crs", "EPSG:32611", "target CRS code")
	resolution := flag.Float64("resolution", 3000, "cell size in CRS units")
	bounds := flag.String("bounds", "200000,3650000,500000,3860000",
		"minx,miny,maxx,maxy in CRS units")
	flag.Parse()

	b, err := parseBounds(*bounds)
	if err != nil {
		return err
	}

	g, err := grid.New(grid.Params{CRS: *crs, Resolution: *resolution, Bounds: b})
	if err != nil {
		return err
	}

	ny, nx := g.Shape()
	fmt.Printf("crs         %s\n", *crs)
	fmt.Printf("resolution  %g\n", *resolution)
	fmt.Printf("shape       %d x %d (rows x cols)\n", ny, nx)
	fmt.Printf("cells       %d\n", ny*nx)
	fmt.Printf("extent      %g..%g, %g..%g\n", b.MinX, b.MaxX, b.MinY, b.MaxY)

	lat, lon := g.Lat(), g.Lon()
	corner := func(label string, row, col int) {
		i := row*nx + col
		fmt.Printf("%-11s lat %.5f lon %.5f\n", label, lat[i], lon[i])
	}
	corner("NW center", 0, 0)
	corner("NE center", 0, nx-1)
	corner("SW center", ny-1, 0)
	corner("SE center", ny-1, nx-1)
	return nil
}

func parseBounds(s string) (grid.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return grid.Bounds{}, fmt.Errorf("bounds needs 4 comma-separated values, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return grid.Bounds{}, fmt.Errorf("bounds value %q: %w", p, err)
		}
		vals[i] = v
	}
	return grid.Bounds{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}
