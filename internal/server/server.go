// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/gateway"
	"github.com/jeranaias/ipa/internal/session"
	"github.com/jeranaias/ipa/internal/storage"
	"github.com/jeranaias/ipa/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version reported by /health.
	Version = "1.0.0"

	// DefaultMaxMessageBytes bounds socket frames and request bodies.
	DefaultMaxMessageBytes = 10 << 20
)

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the article REST API and the /ws event channel. One
// session is opened per socket connection.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger

	store       *storage.DocumentStore
	gateway     gateway.Gateway
	coordinator *session.Coordinator
	registry    *session.Registry
	turns       *telemetry.TurnTracker

	cors     *CORSConfig
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	router   *http.ServeMux
	handler  http.Handler
	server   *http.Server
	started  time.Time

	mu      sync.Mutex
	sockets map[*socketConn]struct{}
	active  sync.WaitGroup
	watcher *storage.DocumentWatcher
}

// New creates a Server. A nil logger discards output.
func New(cfg *config.Config, gw gateway.Gateway, store *storage.DocumentStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srvCfg := cfg.Server
	if srvCfg.MaxMessageBytes <= 0 {
		srvCfg.MaxMessageBytes = DefaultMaxMessageBytes
	}

	s := &Server{
		cfg:     srvCfg,
		logger:  logger,
		store:   store,
		gateway: gw,
		turns:   telemetry.NewTurnTracker(),
		cors:    DefaultCORSConfig(),
		router:  http.NewServeMux(),
		started: time.Now(),
		sockets: make(map[*socketConn]struct{}),
	}
	if len(srvCfg.AllowedOrigins) > 0 {
		s.cors.AllowedOrigins = srvCfg.AllowedOrigins
	}

	sessionLogger := logger.Named("session")
	s.coordinator = session.NewCoordinator(gw, store, sessionLogger, session.Config{
		ModelTimeout: cfg.ModelTimeout(),
	}).WithTransitionHook(func(id string, from, to session.State) {
		s.turns.Observe(id, from, to)
		sessionLogger.Debug("SESSION_TRANSITION",
			zap.String("session", id),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	})
	s.registry = session.NewRegistry(s.coordinator)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger.Named("http")),
		CORSMiddleware(s.cors),
	}
	if srvCfg.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(srvCfg.RateLimitPerMinute)
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, logger))
	}
	s.handler = Chain(middlewares...)(s.router)
	return s
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes mounts every route at the root and under /api.
func (s *Server) setupRoutes() {
	for _, prefix := range []string{"", "/api"} {
		s.router.HandleFunc("GET "+prefix+"/health", s.handleHealth)
		s.router.HandleFunc("GET "+prefix+"/stats", s.handleStats)

		s.router.HandleFunc("GET "+prefix+"/articles", s.handleListArticles)
		s.router.HandleFunc("POST "+prefix+"/articles", s.handleCreateArticle)
		s.router.HandleFunc("GET "+prefix+"/articles/{name}", s.handleGetArticle)
		s.router.HandleFunc("PUT "+prefix+"/articles/{name}", s.handleUpdateArticle)
		s.router.HandleFunc("DELETE "+prefix+"/articles/{name}", s.handleDeleteArticle)
	}
	s.router.HandleFunc("GET /ws", s.handleSocket)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string              `json:"status"`
	Version   string              `json:"version"`
	Timestamp time.Time           `json:"timestamp"`
	Uptime    float64             `json:"uptime"`
	Model     string              `json:"model"`
	Sessions  int                 `json:"sessions"`
	Turns     telemetry.TurnStats `json:"turns"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Seconds(),
		Model:     s.gateway.Name(),
		Sessions:  s.registry.Len(),
		Turns:     s.turns.Snapshot(),
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.logger.Error("API_STATS_FAILED", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ============================================================================
// DOCUMENT WATCHER
// ============================================================================

// Watch broadcasts a fresh articles_list to every session whenever the
// article directory is changed by something other than this server.
func (s *Server) Watch(ctx context.Context) error {
	w, err := storage.NewDocumentWatcher(s.store, storage.DefaultDebounce, s.logger.Named("watcher"), s.broadcastDocuments)
	if err != nil {
		return err
	}
	if err := w.Watch(ctx); err != nil {
		w.Close()
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *Server) broadcastDocuments() {
	count := 0
	s.registry.Each(func(sess *session.Session) {
		if err := s.coordinator.ListDocuments(sess, ""); err == nil {
			count++
		}
	})
	s.logger.Info("ARTICLES_BROADCAST", zap.Int("sessions", count))
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := (&config.Config{Server: s.cfg}).Addr()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("SERVER_START",
		zap.String("addr", addr),
		zap.String("version", Version),
		zap.String("model", s.gateway.Name()),
		zap.String("store", s.store.Dir),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every socket and session and
// waits for connection handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("SERVER_SHUTDOWN", zap.Int("sessions", s.registry.Len()))

	var err error
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	s.Close()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Close closes every socket, terminates all sessions and stops background
// goroutines. It does not stop the HTTP listener.
func (s *Server) Close() {
	s.mu.Lock()
	sockets := make([]*socketConn, 0, len(s.sockets))
	for c := range s.sockets {
		sockets = append(sockets, c)
	}
	s.sockets = nil
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	for _, c := range sockets {
		c.close()
	}
	s.registry.CloseAll()
	if w != nil {
		w.Close()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
