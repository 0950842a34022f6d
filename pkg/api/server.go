package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/outpost-sh/outpost/pkg/hub"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/metrics"
)

// Server is the hub's HTTP surface: the operator/caller REST API, the agent
// websocket endpoint, and the health/metrics endpoints.
type Server struct {
	hub        *hub.Hub
	router     *mux.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server for a hub
func NewServer(h *hub.Hub) *Server {
	s := &Server{
		hub:    h,
		router: mux.NewRouter(),
		logger: log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Unauthenticated: health triplet, metrics, login, enrollment, agent socket
	s.router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/livez", metrics.LivenessHandler()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/login", s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/enroll", s.handleEnroll).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/agent", s.handleAgentSocket)

	// Authenticated API
	authed := s.router.PathPrefix("/api/v1").Subrouter()
	authed.Use(s.authMiddleware, s.instrumentMiddleware)

	authed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/whoami", s.handleWhoami).Methods(http.MethodGet)

	authed.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	authed.HandleFunc("/agents/{ref}", s.handleGetAgent).Methods(http.MethodGet)
	authed.HandleFunc("/agents/{ref}/probe", s.handleExecuteProbe).Methods(http.MethodPost)

	authed.HandleFunc("/tokens", s.handleCreateToken).Methods(http.MethodPost)
	authed.HandleFunc("/tokens", s.handleListTokens).Methods(http.MethodGet)

	authed.HandleFunc("/apikeys", s.handleCreateAPIKey).Methods(http.MethodPost)
	authed.HandleFunc("/apikeys", s.handleListAPIKeys).Methods(http.MethodGet)
	authed.HandleFunc("/apikeys/{id}", s.handleRevokeAPIKey).Methods(http.MethodDelete)

	authed.HandleFunc("/audit", s.handleAuditRecent).Methods(http.MethodGet)
	authed.HandleFunc("/audit/verify", s.handleAuditVerify).Methods(http.MethodGet)

	authed.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)

	authed.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	authed.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
}

// Start begins serving on addr and blocks until the listener fails or the
// server is shut down
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", addr).Msg("api server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		metrics.UpdateComponent("api", false, err.Error())
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
