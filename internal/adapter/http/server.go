package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/geounify/internal/grid"
)

// ReadinessChecker reports whether the service has produced output yet.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes health, readiness, metrics, and grid inspection
// endpoints alongside a running pipeline.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// and /gridz routes.
func NewServer(addr string, ready ReadinessChecker, master *grid.Grid, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /gridz", handleGrid(master))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleGrid reports the master grid geometry so operators can confirm
// the configured extent without opening an output file.
func handleGrid(master *grid.Grid) http.HandlerFunc {
	type gridInfo struct {
		CRS        string  `json:"crs"`
		Resolution float64 `json:"resolution"`
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		MinX       float64 `json:"min_x"`
		MinY       float64 `json:"min_y"`
		MaxX       float64 `json:"max_x"`
		MaxY       float64 `json:"max_y"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		p := master.Params()
		writeJSON(w, http.StatusOK, gridInfo{
			CRS:        p.CRS,
			Resolution: p.Resolution,
			Width:      master.Width,
			Height:     master.Height,
			MinX:       p.Bounds.MinX,
			MinY:       p.Bounds.MinY,
			MaxX:       p.Bounds.MaxX,
			MaxY:       p.Bounds.MaxY,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
