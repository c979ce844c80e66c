// Package api serves the admin HTTP surface: engine lifecycle, system and
// user configuration, the confirmation queue, rule metadata and the live
// log stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/events"
	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/users"
	"github.com/webtm/webtm-go/internal/websocket"
)

// Server is the admin API. It owns the route table and the session store;
// the listen address and auth settings come from the live system config.
type Server struct {
	mux      *http.ServeMux
	ctrl     *events.Controller
	manager  *users.Manager
	hub      *websocket.Hub
	sessions *sessionTable
	started  time.Time
}

// NewServer wires the admin API around the controller and the user
// manager. hub may be nil when the push channel is disabled.
func NewServer(ctrl *events.Controller, manager *users.Manager, hub *websocket.Hub) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		ctrl:     ctrl,
		manager:  manager,
		hub:      hub,
		sessions: newSessionTable(sessionTTL),
		started:  time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/config", s.requireAuth(s.handleConfig))
	s.mux.HandleFunc("/api/start", s.requireAuth(s.handleStart))
	s.mux.HandleFunc("/api/stop", s.requireAuth(s.handleStop))
	s.mux.HandleFunc("/api/rules/meta", s.requireAuth(s.handleRulesMeta))
	s.mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	s.mux.HandleFunc("/api/users", s.requireAuth(s.handleUsers))
	s.mux.HandleFunc("/api/users/", s.requireAuth(s.handleUserSubtree))
	if s.hub != nil {
		s.mux.HandleFunc("/ws", s.requireAuth(s.hub.ServeHTTP))
	}
}

// ServeHTTP adds CORS and security headers around the route table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origins := s.ctrl.Config().Server.AllowedOrigins; origins != "" {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// Run serves on the configured listen address until ctx ends, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.ctrl.Config().Server.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", srv.Addr).Msg("Admin API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode api response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps the domain sentinels onto HTTP statuses. An action that
// needs a moderator session the user does not have is a conflict with the
// current session state, not a client mistake.
func errStatus(err error) int {
	switch {
	case errors.Is(err, modErrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, modErrors.ErrInvalidInput), errors.Is(err, modErrors.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, modErrors.ErrUnauthorized), errors.Is(err, modErrors.ErrMissingAuth):
		return http.StatusUnauthorized
	case errors.Is(err, modErrors.ErrInvalidClient):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", modErrors.ErrInvalidInput, err)
	}
	return nil
}

func pathParts(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
