package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	HTTPPort       int
	UpgradePaths   []string
	AllowedOrigins []string

	MaxConnections     int
	MaxFrameBytes      int64
	SendQueueSize      int
	BroadcastQueueSize int

	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration

	MetricsWindow          time.Duration
	MetricsEvictInterval   time.Duration
	MetricsPublishInterval time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:               8080,
		UpgradePaths:           []string{"/ws"},
		AllowedOrigins:         []string{"*"},
		MaxConnections:         1000,
		MaxFrameBytes:          65536,
		SendQueueSize:          256,
		BroadcastQueueSize:     256,
		HeartbeatInterval:      30 * time.Second,
		ProbeTimeout:           10 * time.Second,
		MetricsWindow:          time.Second,
		MetricsEvictInterval:   time.Second,
		MetricsPublishInterval: 2 * time.Second,
	}
}

// Server ties the registry, broadcaster, heartbeat monitor, and stats tracker
// together behind one HTTP listener. All components share the registry as
// their sole shared state; each is started and stopped with the server.
type Server struct {
	config  ServerConfig
	metrics *Metrics

	registry    *Registry
	broadcaster *Broadcaster
	monitor     *HeartbeatMonitor
	stats       *StatsTracker

	upgrader        websocket.Upgrader
	upgradePaths    map[string]bool
	allowedOrigins  map[string]bool
	allowAllOrigins bool

	httpServer *http.Server
	startTime  time.Time
	wg         sync.WaitGroup
}

// NewServer creates a new server instance. metrics may be nil, in which case
// nothing is recorded.
func NewServer(config ServerConfig, metrics *Metrics) *Server {
	registry := NewRegistry(config.MaxConnections, config.SendQueueSize)
	registry.SetMetrics(metrics)

	broadcaster := NewBroadcaster(registry, metrics, config.BroadcastQueueSize)
	monitor := NewHeartbeatMonitor(registry, metrics, config.HeartbeatInterval, config.ProbeTimeout)
	stats := NewStatsTracker(registry, broadcaster, config.MetricsWindow, config.MetricsEvictInterval, config.MetricsPublishInterval)

	s := &Server{
		config:      config,
		metrics:     metrics,
		registry:    registry,
		broadcaster: broadcaster,
		monitor:     monitor,
		stats:       stats,
		startTime:   time.Now(),
	}

	s.upgradePaths = make(map[string]bool, len(config.UpgradePaths))
	for _, path := range config.UpgradePaths {
		s.upgradePaths[path] = true
	}
	s.allowedOrigins, s.allowAllOrigins = normalizeOrigins(config.AllowedOrigins)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// Registry exposes the registry for status reporting.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Stats exposes the stats tracker for status reporting.
func (s *Server) Stats() *StatsTracker {
	return s.stats
}

// Handler builds the HTTP mux: the allow-listed upgrade paths, the read-only
// status endpoints, and the Prometheus scrape endpoint. Every request feeds
// the stats tracker's sliding window.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, path := range s.config.UpgradePaths {
		mux.HandleFunc(path, s.HandleWebSocket)
	}
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return s.countRequests(mux)
}

// countRequests records every inbound HTTP request into the metrics window.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.RecordEvent()
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP listener and the background components.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.broadcaster.Run()
	}()
	go func() {
		defer s.wg.Done()
		s.monitor.Run()
	}()
	go func() {
		defer s.wg.Done()
		s.stats.Run()
	}()

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server: no new admissions, every session closed,
// background loops drained.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.monitor.Stop()
	s.stats.Stop()
	s.broadcaster.Stop()
	s.registry.CloseAll()

	s.wg.Wait()
	return httpErr
}
