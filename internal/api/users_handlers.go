package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/webtm/webtm-go/internal/config"
	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/users"
)

// userSummary is the list view served by GET /api/users.
type userSummary struct {
	Username    string `json:"username"`
	Enable      bool   `json:"enable"`
	Fname       string `json:"fname"`
	LoginState  string `json:"login_state"`
	LoginReason string `json:"login_reason,omitempty"`
	Rules       int    `json:"rules"`
	Confirms    int    `json:"confirms"`
}

func summarize(u *users.User) userSummary {
	cfg := u.Config()
	state, reason := u.Client().State()
	return userSummary{
		Username:    cfg.Username,
		Enable:      cfg.Enable,
		Fname:       cfg.Forum.Fname,
		LoginState:  string(state),
		LoginReason: reason,
		Rules:       len(cfg.Rules),
		Confirms:    u.ConfirmCount(),
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.manager.Users()
		out := make([]userSummary, 0, len(list))
		for _, u := range list {
			out = append(out, summarize(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "users": out})

	case http.MethodPost:
		cfg := config.NewUserConfig("")
		if err := decodeBody(r, cfg); err != nil {
			writeError(w, err)
			return
		}
		if cfg.Username == "" {
			writeError(w, fmt.Errorf("%w: username required", modErrors.ErrInvalidInput))
			return
		}
		if err := hashPassword(cfg); err != nil {
			writeError(w, err)
			return
		}
		u, err := s.manager.AddUser(r.Context(), cfg)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summarize(u))

	default:
		methodNotAllowed(w)
	}
}

// handleUserSubtree routes /api/users/{name}, /api/users/{name}/config,
// /api/users/{name}/enable|disable, /api/users/{name}/confirms and
// /api/users/{name}/confirms/{pid}.
func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/users/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	name := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.deleteUser(w, r, name)

	case len(parts) == 2 && parts[1] == "config":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.updateUser(w, r, name)

	case len(parts) == 2 && (parts[1] == "enable" || parts[1] == "disable"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.setUserEnable(w, r, name, parts[1] == "enable")

	case len(parts) == 2 && parts[1] == "confirms":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.listConfirms(w, r, name)

	case len(parts) == 3 && parts[1] == "confirms":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.operateConfirm(w, r, name, parts[2])

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.manager.DeleteUser(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, name string) {
	u, ok := s.manager.User(name)
	if !ok {
		writeError(w, modErrors.ErrNotFound)
		return
	}
	// Decode over the current config so a partial body works; the path
	// segment, not the body, names the user.
	cfg := u.Config().Clone()
	if err := decodeBody(r, cfg); err != nil {
		writeError(w, err)
		return
	}
	cfg.Username = name
	if err := hashPassword(cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.manager.UpdateUser(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(u))
}

func (s *Server) setUserEnable(w http.ResponseWriter, r *http.Request, name string, enable bool) {
	u, ok := s.manager.User(name)
	if !ok {
		writeError(w, modErrors.ErrNotFound)
		return
	}
	cfg := u.Config().Clone()
	cfg.Enable = enable
	if err := s.manager.UpdateUser(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": name, "enable": enable})
}

func (s *Server) listConfirms(w http.ResponseWriter, r *http.Request, name string) {
	u, ok := s.manager.User(name)
	if !ok {
		writeError(w, modErrors.ErrNotFound)
		return
	}
	confirms := u.Confirms()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(confirms), "confirms": confirms})
}

func (s *Server) operateConfirm(w http.ResponseWriter, r *http.Request, name, rawPid string) {
	u, ok := s.manager.User(name)
	if !ok {
		writeError(w, modErrors.ErrNotFound)
		return
	}
	pid, err := strconv.ParseInt(rawPid, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad pid %q", modErrors.ErrInvalidInput, rawPid))
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := u.OperateConfirm(r.Context(), pid, body.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "action": body.Action})
}

// hashPassword replaces a plaintext password with its bcrypt hash. Values
// that already look hashed pass through so stored configs round-trip.
func hashPassword(cfg *config.UserConfig) error {
	if cfg.Password == "" || strings.HasPrefix(cfg.Password, "$2") {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	cfg.Password = string(hash)
	cfg.PasswordLastUpdate = time.Now().Unix()
	return nil
}
