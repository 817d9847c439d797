package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HRRR_DIR", "/data/hrrr")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "EPSG:32611", cfg.GridCRS)
	assert.Equal(t, 3000.0, cfg.GridResolution)
	assert.Equal(t, [4]float64{200000, 3650000, 500000, 3860000}, cfg.GridBounds)
	assert.Equal(t, "/data/hrrr", cfg.HRRRDir)
	assert.Equal(t, "data/unified", cfg.OutputDir)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.EventBrokers)
	assert.Equal(t, "geounify-events", cfg.EventTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("GRID_CRS", "EPSG:32610")
	t.Setenv("GRID_RESOLUTION", "1000")
	t.Setenv("GRID_BOUNDS", "0,0,100000,50000")
	t.Setenv("HRRR_DIR", "/a")
	t.Setenv("MODIS_DIR", "/b")
	t.Setenv("SRTM_DIR", "/c")
	t.Setenv("CALFIRE_PATH", "/d/perims.fgb")
	t.Setenv("OUTPUT_DIR", "/out")
	t.Setenv("WORKERS", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("EVENT_BROKERS", "k1:9092, k2:9092")
	t.Setenv("EVENT_TOPIC", "custom-events")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "EPSG:32610", cfg.GridCRS)
	assert.Equal(t, 1000.0, cfg.GridResolution)
	assert.Equal(t, [4]float64{0, 0, 100000, 50000}, cfg.GridBounds)
	assert.Equal(t, "/a", cfg.HRRRDir)
	assert.Equal(t, "/b", cfg.MODISDir)
	assert.Equal(t, "/c", cfg.SRTMDir)
	assert.Equal(t, "/d/perims.fgb", cfg.CalFirePath)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBrokers)
	assert.Equal(t, "custom-events", cfg.EventTopic)
}

func TestLoad_NoSources(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources configured")
}

func TestLoad_BadResolution(t *testing.T) {
	t.Setenv("HRRR_DIR", "/a")
	t.Setenv("GRID_RESOLUTION", "three thousand")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_BadBounds(t *testing.T) {
	t.Setenv("HRRR_DIR", "/a")

	t.Setenv("GRID_BOUNDS", "1,2,3")
	_, err := Load()
	assert.Error(t, err, "three components")

	t.Setenv("GRID_BOUNDS", "1,2,3,x")
	_, err = Load()
	assert.Error(t, err, "non-numeric component")
}

func TestLoad_BadWorkers(t *testing.T) {
	t.Setenv("HRRR_DIR", "/a")

	t.Setenv("WORKERS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("WORKERS", "lots")
	_, err = Load()
	assert.Error(t, err)
}
