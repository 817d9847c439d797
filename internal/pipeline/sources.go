package pipeline

import (
	"github.com/couchcryptid/geounify/internal/adapter/perimeter"
	"github.com/couchcryptid/geounify/internal/driver"
	"github.com/couchcryptid/geounify/internal/locate"
	"github.com/couchcryptid/geounify/internal/parse"
	"github.com/couchcryptid/geounify/internal/proj"
	"github.com/couchcryptid/geounify/internal/quality"
	"github.com/couchcryptid/geounify/internal/raster"
	"github.com/couchcryptid/geounify/internal/regrid"
	"github.com/couchcryptid/geounify/internal/temporal"
	"github.com/couchcryptid/geounify/internal/unify"
)

// SourceSpec describes one input archive: where its files live, how to
// group and order them, how each file is parsed and masked, and how the
// result lands on the master grid.
type SourceSpec struct {
	// Name identifies the source in logs, events, and output metadata.
	Name string
	// Root is the directory walked for input files. For vector sources
	// it is the path of a single file instead.
	Root string
	// Pattern is matched against file basenames during the walk.
	Pattern string

	// BatchKey groups located files into batches. Each batch becomes
	// one time series and one output file.
	BatchKey locate.KeyFunc
	// Timestamp extracts the acquisition time of a file. Nil for
	// static sources.
	Timestamp temporal.TimeFunc

	Parse   parse.Config
	Quality *quality.Config
	Regrid  regrid.Options

	// Meta supplies per-variable output attributes, keyed by the
	// variable name after regridding.
	Meta map[string]unify.VarMeta
	// Rename maps regridded variable names to their published names.
	Rename map[string]string

	// TimeDim names the unlimited-style time dimension for this
	// source's block in the unified file.
	TimeDim string
	// OutputPrefix is the file name prefix for per-source outputs.
	OutputPrefix string

	// Static sources carry no time axis and join every unified file.
	Static bool
	// Vector sources are gridded from polygon features rather than
	// parsed as rasters.
	Vector bool
	// Perimeter configures vector gridding. Only read when Vector.
	Perimeter perimeter.Config

	// Derive, when set, runs once per batch after regridding to add
	// computed variables such as terrain slope.
	Derive func(*raster.Raster) error
}

// HRRRSpec configures the gridded weather source. Files arrive one
// model cycle per day directory and are batched by year.
func HRRRSpec(root string) SourceSpec {
	hrrrCRS := proj.LambertConformal(38.5, 38.5, 38.5, 262.5, 6371229)
	return SourceSpec{
		Name:    "weather_hrrr",
		Root:    root,
		Pattern: "*hrrr*",

		BatchKey:  locate.YearDirKey,
		Timestamp: temporal.CycleDirTime,

		Parse: parse.Config{
			Source: "weather_hrrr",
			CRS:    hrrrCRS,
			Filters: []driver.Filter{
				{Name: "2m", Keys: map[string]string{
					driver.FilterTypeOfLevel: "heightAboveGround",
					driver.FilterLevel:       "2",
				}},
				{Name: "10m", Keys: map[string]string{
					driver.FilterTypeOfLevel: "heightAboveGround",
					driver.FilterLevel:       "10",
				}},
				{Name: "surface", Keys: map[string]string{
					driver.FilterTypeOfLevel: "surface",
				}},
			},
			Variables: []string{"t2m", "r2", "sh2", "d2m", "u10", "v10", "max_10si", "prate"},
		},

		Regrid: regrid.Options{Method: regrid.Bilinear},

		Meta: map[string]unify.VarMeta{
			"t2m":      {Units: "K", StandardName: "air_temperature", LongName: "2 metre temperature", Source: "weather_hrrr"},
			"r2":       {Units: "%", StandardName: "relative_humidity", LongName: "2 metre relative humidity", Source: "weather_hrrr"},
			"sh2":      {Units: "kg kg-1", StandardName: "specific_humidity", LongName: "2 metre specific humidity", Source: "weather_hrrr"},
			"d2m":      {Units: "K", StandardName: "dew_point_temperature", LongName: "2 metre dewpoint temperature", Source: "weather_hrrr"},
			"u10":      {Units: "m s-1", StandardName: "eastward_wind", LongName: "10 metre u wind component", Source: "weather_hrrr"},
			"v10":      {Units: "m s-1", StandardName: "northward_wind", LongName: "10 metre v wind component", Source: "weather_hrrr"},
			"max_10si": {Units: "m s-1", StandardName: "wind_speed_of_gust", LongName: "10 metre maximum wind speed", Source: "weather_hrrr"},
			"prate":    {Units: "kg m-2 s-1", StandardName: "precipitation_flux", LongName: "surface precipitation rate", Source: "weather_hrrr"},
		},

		TimeDim:      "time",
		OutputPrefix: "weather_hrrr",
	}
}

// MODISSpec configures the satellite vegetation source. Tiles are
// batched by acquisition year parsed from the A-date in the file name.
func MODISSpec(root string) SourceSpec {
	return SourceSpec{
		Name:    "vegetation_modis",
		Root:    root,
		Pattern: "M?D13Q1.A*",

		BatchKey:  locate.YearDOYKey,
		Timestamp: temporal.YearDOYTime,

		Parse: parse.Config{
			Source: "vegetation_modis",
			CRS:    proj.Sinusoidal(6371007.181),
			Filters: []driver.Filter{
				{Name: "NDVI", Keys: map[string]string{driver.FilterSubdataset: "NDVI"}},
				{Name: "EVI", Keys: map[string]string{driver.FilterSubdataset: "EVI"}},
			},
			QAFilter: &driver.Filter{
				Name: "QA",
				Keys: map[string]string{driver.FilterSubdataset: "pixel reliability"},
			},
		},

		Quality: &quality.Config{
			ValidValues: []float64{0},
			ScaleFactor: 0.0001,
		},

		Regrid: regrid.Options{
			Method: regrid.Average,
			Stats:  []regrid.Stat{regrid.Mean, regrid.Std},
		},

		Meta: map[string]unify.VarMeta{
			"ndvi_mean": {Units: "1", StandardName: "normalized_difference_vegetation_index", LongName: "cell mean NDVI", Source: "vegetation_modis", Pack: true},
			"ndvi_std":  {Units: "1", LongName: "cell NDVI standard deviation", Source: "vegetation_modis", Pack: true},
			"evi_mean":  {Units: "1", LongName: "cell mean EVI", Source: "vegetation_modis", Pack: true},
			"evi_std":   {Units: "1", LongName: "cell EVI standard deviation", Source: "vegetation_modis", Pack: true},
		},

		TimeDim:      "time_modis",
		OutputPrefix: "vegetation_modis",
	}
}

// SRTMSpec configures the static elevation source. Tiles carry no time
// axis; the regridded mosaic joins every unified output.
func SRTMSpec(root string) SourceSpec {
	return SourceSpec{
		Name:    "terrain_srtm",
		Root:    root,
		Pattern: "[NS][0-9][0-9][EW]*",

		BatchKey: locate.SingleKey("static"),

		Parse: parse.Config{
			Source: "terrain_srtm",
			CRS:    proj.Geographic(),
			Filters: []driver.Filter{
				{Name: "elevation", Keys: map[string]string{driver.FilterSubdataset: "elevation"}},
			},
		},

		Regrid: regrid.Options{
			Method: regrid.Average,
			Stats:  []regrid.Stat{regrid.Mean, regrid.Std, regrid.Min, regrid.Max},
		},

		Meta: map[string]unify.VarMeta{
			"elevation_mean": {Units: "m", StandardName: "surface_altitude", LongName: "cell mean elevation", Source: "terrain_srtm"},
			"elevation_std":  {Units: "m", LongName: "cell elevation standard deviation", Source: "terrain_srtm"},
			"elevation_min":  {Units: "m", LongName: "cell minimum elevation", Source: "terrain_srtm"},
			"elevation_max":  {Units: "m", LongName: "cell maximum elevation", Source: "terrain_srtm"},
			"slope":          {Units: "degree", LongName: "terrain slope from mean elevation", Source: "terrain_srtm"},
			"aspect":         {Units: "degree", LongName: "terrain aspect from mean elevation, clockwise from north", Source: "terrain_srtm"},
		},

		OutputPrefix: "terrain_srtm",
		Static:       true,
		Derive:       deriveTerrain,
	}
}

// CalFireSpec configures the fire perimeter source from a single
// vector file of historical perimeters.
func CalFireSpec(path string) SourceSpec {
	return SourceSpec{
		Name: "fires_calfire",
		Root: path,

		Perimeter: perimeter.Config{
			StartProperty: "ALARM_DATE",
			EndProperty:   "CONT_DATE",
		},

		Meta: map[string]unify.VarMeta{
			perimeter.VarName: {Units: "1", LongName: "active fire perimeter presence", Source: "fires_calfire"},
		},

		TimeDim:      "time_fire",
		OutputPrefix: "fires_calfire",
		Vector:       true,
	}
}
