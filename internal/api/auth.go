package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

// sessionTable holds the bearer tokens issued by /api/login. Tokens live
// in memory only; a restart logs every admin out.
type sessionTable struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func newSessionTable(ttl time.Duration) *sessionTable {
	return &sessionTable{
		ttl:    ttl,
		now:    time.Now,
		tokens: map[string]time.Time{},
	}
}

func (t *sessionTable) issue() string {
	token := uuid.NewString()
	t.mu.Lock()
	t.tokens[token] = t.now().Add(t.ttl)
	t.mu.Unlock()
	return token
}

func (t *sessionTable) valid(token string) bool {
	if token == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.tokens[token]
	if !ok {
		return false
	}
	if t.now().After(expiry) {
		delete(t.tokens, token)
		return false
	}
	return true
}

// requireAuth guards a handler behind the session table. With no admin
// password configured the whole surface is open, same as running the
// engine on a trusted network.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ctrl.Config().Server.AdminPasswordHash == "" {
			next(w, r)
			return
		}
		if !s.sessions.valid(bearerToken(r)) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// bearerToken pulls the session token from the Authorization header, or
// from the query string for websocket upgrades where browsers cannot set
// headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleLogin exchanges the admin password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	hash := s.ctrl.Config().Server.AdminPasswordHash
	if hash == "" {
		writeJSON(w, http.StatusOK, map[string]any{"token": "", "auth_required": false})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password)); err != nil {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Admin login rejected")
		http.Error(w, "Invalid password", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": s.sessions.issue(), "auth_required": true})
}
