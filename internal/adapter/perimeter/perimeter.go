// Package perimeter grids vector fire-perimeter layers onto the master
// grid. Each polygon becomes a daily burning mask by cell-center
// containment: a cell burns on a day when its center lies inside any
// perimeter active that day. Full area-weighted polygon rasterization is an
// external concern and deliberately not attempted here.
package perimeter

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	fgb "github.com/tingold/orb-flatgeobuf"

	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/grid"
	"github.com/couchcryptid/geounify/internal/raster"
	"github.com/couchcryptid/geounify/internal/temporal"
)

// VarName is the mask variable produced for every burning day.
const VarName = "fire_present"

// Config selects the feature properties carrying the fire dates.
type Config struct {
	// StartProperty is the ignition/alarm date property.
	StartProperty string
	// EndProperty is the containment date property; empty or absent values
	// limit the fire to its start day.
	EndProperty string
	// MaxDays caps the per-fire active window against bad containment
	// dates. Zero means 365.
	MaxDays int
}

// Gridder converts perimeter layers into daily mask series.
type Gridder struct {
	logger *slog.Logger
}

// NewGridder creates a Gridder.
func NewGridder(logger *slog.Logger) *Gridder {
	return &Gridder{logger: logger}
}

// GridFile reads one FlatGeobuf perimeter layer and returns a sorted series
// of daily masks on the master grid. Geometries are expected in geographic
// coordinates; cell centers are tested in that space. An unreadable file is
// classified as corrupted so batch processing can skip it.
func (g *Gridder) GridFile(path string, master *grid.Grid, cfg Config) (*temporal.Series, error) {
	reader, err := fgb.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, driver.ErrCorrupted, err)
	}
	defer reader.Close()

	fc, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", path, driver.ErrCorrupted, err)
	}

	maxDays := cfg.MaxDays
	if maxDays == 0 {
		maxDays = 365
	}

	masks := make(map[time.Time][]float64)
	skipped := 0
	for _, f := range fc.Features {
		start, ok := dateProperty(f, cfg.StartProperty)
		if !ok {
			skipped++
			continue
		}
		end, ok := dateProperty(f, cfg.EndProperty)
		if !ok || end.Before(start) {
			end = start
		}
		if days := int(end.Sub(start).Hours()/24) + 1; days > maxDays {
			end = start.AddDate(0, 0, maxDays-1)
		}

		cells := containedCells(f.Geometry, master)
		if len(cells) == 0 {
			continue
		}
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			mask, ok := masks[day]
			if !ok {
				mask = make([]float64, master.Grid.Width*master.Grid.Height)
				masks[day] = mask
			}
			for _, idx := range cells {
				mask[idx] = 1
			}
		}
	}
	if skipped > 0 {
		g.logger.Warn("perimeter features without a usable start date",
			"path", path, "skipped", skipped, "property", cfg.StartProperty)
	}

	series := temporal.NewSeries("fire_perimeters")
	days := make([]time.Time, 0, len(masks))
	for day := range masks {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, day := range days {
		r := raster.New(master.Grid)
		r.SetVar(VarName, masks[day])
		series.Add(day, r)
	}
	series.Sort()
	return series, nil
}

// containedCells returns the flat indices of master grid cells whose
// centers fall inside the geometry. The test runs in geographic
// coordinates via the grid's precomputed latitude/longitude arrays, scoped
// to the geometry's bounding box.
func containedCells(geom orb.Geometry, master *grid.Grid) []int {
	if geom == nil {
		return nil
	}
	bound := geom.Bound()
	lon, lat := master.Lon(), master.Lat()

	var cells []int
	for i := range lon {
		p := orb.Point{lon[i], lat[i]}
		if !bound.Contains(p) {
			continue
		}
		switch s := geom.(type) {
		case orb.Polygon:
			if planar.PolygonContains(s, p) {
				cells = append(cells, i)
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(s, p) {
				cells = append(cells, i)
			}
		}
	}
	return cells
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", time.RFC3339, "2006-01-02T15:04:05Z07:00"}

func dateProperty(f *geojson.Feature, prop string) (time.Time, bool) {
	if prop == "" {
		return time.Time{}, false
	}
	raw, ok := f.Properties[prop]
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
