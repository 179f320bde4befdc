package dashboard

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/observability/metrics"
)

//go:embed assets/*
var assetsFS embed.FS

// Config holds dashboard server configuration.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            31265,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// StatsProvider reads the coordinator's registry and connection state
// for the dashboard's HTTP API and periodic WebSocket push.
type StatsProvider interface {
	GetStats() *Stats
	GetWorkers() []*WorkerInfo
}

// Server is the HTTP dashboard server.
type Server struct {
	config   Config
	server   *http.Server
	hub      *Hub
	provider StatsProvider
}

// New creates a new dashboard server.
func New(cfg Config, provider StatsProvider) *Server {
	s := &Server{
		config:   cfg,
		hub:      NewHub(),
		provider: provider,
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/workers", s.handleWorkers)

	mux.HandleFunc("/ws", s.handleWebSocket)

	assetsContent, _ := fs.Sub(assetsFS, "assets")
	mux.Handle("/", http.FileServer(http.FS(assetsContent)))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the HTTP server and WebSocket hub. It blocks until the
// server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	log.Info().Int("port", s.config.Port).Msg("dashboard: server starting")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Stop()
	return s.server.Shutdown(ctx)
}

// Hub returns the WebSocket hub, e.g. for the coordinator to push
// worker join/leave/evict events as they happen.
func (s *Server) Hub() *Hub {
	return s.hub
}

// RegistryEventNotifier carries the callbacks a coordinator wires into
// its registry so that joins, explicit departures, and heartbeat
// evictions reach connected dashboard clients without the dashboard
// polling the registry itself.
type RegistryEventNotifier struct {
	OnWorkerJoined  func(worker *WorkerInfo)
	OnWorkerRemoved func(address string)
	OnWorkerEvicted func(address string)
}

// NewRegistryEventNotifier returns callbacks bound to this server's hub.
func (s *Server) NewRegistryEventNotifier() RegistryEventNotifier {
	return RegistryEventNotifier{
		OnWorkerJoined:  s.hub.BroadcastWorkerJoined,
		OnWorkerRemoved: s.hub.BroadcastWorkerRemoved,
		OnWorkerEvicted: s.hub.BroadcastWorkerEvicted,
	}
}

// broadcastLoop periodically pushes a stats snapshot to WebSocket
// clients, independent of the event-driven worker join/leave/evict
// broadcasts.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.Default().SetDashboardSubscribers(float64(s.hub.ClientCount()))
			if s.provider != nil {
				s.hub.BroadcastStats(s.provider.GetStats())
			}
		case <-s.hub.done:
			return
		}
	}
}
