package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	// Master grid parameters.
	GridCRS        string
	GridResolution float64
	GridBounds     [4]float64 // minx, miny, maxx, maxy in target CRS units

	// Source roots. An empty value disables that source.
	HRRRDir     string
	MODISDir    string
	SRTMDir     string
	CalFirePath string

	OutputDir string
	Workers   int

	LogLevel  string
	LogFormat string

	// MetricsAddr serves /healthz and /metrics while a run is active.
	// Empty disables the server.
	MetricsAddr string

	// Kafka event sink configuration. No brokers means events go to the
	// log only.
	EventBrokers []string
	EventTopic   string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	resolution, err := parseFloat("GRID_RESOLUTION", "3000")
	if err != nil {
		return nil, err
	}

	bounds, err := parseBounds(envOrDefault("GRID_BOUNDS", "200000,3650000,500000,3860000"))
	if err != nil {
		return nil, err
	}

	workers, err := parseWorkers()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		GridCRS:        envOrDefault("GRID_CRS", "EPSG:32611"),
		GridResolution: resolution,
		GridBounds:     bounds,
		HRRRDir:        os.Getenv("HRRR_DIR"),
		MODISDir:       os.Getenv("MODIS_DIR"),
		SRTMDir:        os.Getenv("SRTM_DIR"),
		CalFirePath:    os.Getenv("CALFIRE_PATH"),
		OutputDir:      envOrDefault("OUTPUT_DIR", "data/unified"),
		Workers:        workers,
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("LOG_FORMAT", "json"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		EventBrokers:   parseBrokers(os.Getenv("EVENT_BROKERS")),
		EventTopic:     envOrDefault("EVENT_TOPIC", "geounify-events"),
	}

	if cfg.HRRRDir == "" && cfg.MODISDir == "" && cfg.SRTMDir == "" && cfg.CalFirePath == "" {
		return nil, errors.New("no sources configured: set at least one of HRRR_DIR, MODIS_DIR, SRTM_DIR, CALFIRE_PATH")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if len(cfg.EventBrokers) > 0 && cfg.EventTopic == "" {
		return nil, errors.New("EVENT_BROKERS is set but EVENT_TOPIC is empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseFloat(key, def string) (float64, error) {
	s := envOrDefault(key, def)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

// parseBounds parses "minx,miny,maxx,maxy". Validation of the extent itself
// (degenerate boxes) belongs to the master grid constructor.
func parseBounds(s string) ([4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [4]float64{}, fmt.Errorf("invalid GRID_BOUNDS %q: want minx,miny,maxx,maxy", s)
	}
	var out [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [4]float64{}, fmt.Errorf("invalid GRID_BOUNDS %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseWorkers() (int, error) {
	s := os.Getenv("WORKERS")
	if s == "" {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid WORKERS %q: want a positive integer", s)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
