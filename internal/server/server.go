package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/tadox"
)

// staleIntervals is how many missed poll cycles degrade /health.
const staleIntervals = 3

// SnapshotSource is the read side of the coordinator.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
	Stale(intervals int) bool
	RequestRefresh()
}

// Commander is the write side: control operations against the vendor.
type Commander interface {
	SetRoomTemperature(ctx context.Context, roomID int, control tadox.ManualControl) error
	SetRoomOff(ctx context.Context, roomID int, control tadox.ManualControl) error
	ResumeSchedule(ctx context.Context, roomID int) error
	Boost(ctx context.Context) error
	AllOff(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	SetPresence(ctx context.Context, presence string) error
	SetPresenceAuto(ctx context.Context) error
	SetBoilerTemperature(ctx context.Context, serialNumber string, temperatureC float64) error
}

// Server exposes health, metrics, and the JSON API.
type Server struct {
	source   SnapshotSource
	commands Commander
	log      *slog.Logger
	mux      *http.ServeMux
	httpSrv  *http.Server
}

func New(addr string, source SnapshotSource, commands Commander, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source:   source,
		commands: commands,
		log:      logger.With("component", "server"),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /api/rooms", s.handleRooms)
	s.mux.HandleFunc("GET /api/devices", s.handleDevices)
	s.mux.HandleFunc("GET /api/home", s.handleHome)
	s.mux.HandleFunc("PUT /api/rooms/{id}/temperature", s.handleRoomTemperature)
	s.mux.HandleFunc("DELETE /api/rooms/{id}/overlay", s.handleRoomOverlayDelete)
	s.mux.HandleFunc("POST /api/quickactions/{action}", s.handleQuickAction)
	s.mux.HandleFunc("PUT /api/presence", s.handlePresence)
	s.mux.HandleFunc("PUT /api/devices/{serial}/temperature", s.handleBoilerTemperature)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", s.httpSrv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
