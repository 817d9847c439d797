package pipeline

import (
	"fmt"
	"math"

	"github.com/couchcryptid/geounify/internal/raster"
)

// deriveTerrain adds slope and aspect variables computed from the cell
// mean elevation with central differences. Slope is in degrees from
// horizontal, aspect in degrees clockwise from north. Cells without a
// full neighbourhood of valid elevations stay NaN.
func deriveTerrain(r *raster.Raster) error {
	elev := r.Var("elevation_mean")
	if elev == nil {
		return fmt.Errorf("derive terrain: no elevation_mean variable")
	}
	ny, nx := r.Grid.Shape()
	cell := r.Grid.CellSizeMeters()

	slope := make([]float64, nx*ny)
	aspect := make([]float64, nx*ny)
	for i := range slope {
		slope[i] = math.NaN()
		aspect[i] = math.NaN()
	}

	for row := 1; row < ny-1; row++ {
		for col := 1; col < nx-1; col++ {
			west := elev[row*nx+col-1]
			east := elev[row*nx+col+1]
			north := elev[(row-1)*nx+col]
			south := elev[(row+1)*nx+col]
			if anyNaN(west, east, north, south) {
				continue
			}
			dzdx := (east - west) / (2 * cell)
			// Row 0 is the northern edge, so row index grows southward.
			dzdy := (north - south) / (2 * cell)

			slope[row*nx+col] = math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi

			// Compass bearing of the downhill direction.
			a := math.Atan2(-dzdx, -dzdy) * 180 / math.Pi
			if a < 0 {
				a += 360
			}
			aspect[row*nx+col] = a
		}
	}

	r.SetVar("slope", slope)
	r.SetVar("aspect", aspect)
	return nil
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
