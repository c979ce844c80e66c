package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/webtm/webtm-go/internal/config"
	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/logging"
	"github.com/webtm/webtm-go/internal/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"running":   s.ctrl.Running(),
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// The password hash never leaves the process.
		cfg := *s.ctrl.Config()
		cfg.Server.AdminPasswordHash = ""
		writeJSON(w, http.StatusOK, &cfg)

	case http.MethodPut:
		old := s.ctrl.Config()
		// Decode over a copy of the current config so omitted fields keep
		// their values.
		next := *old
		if err := decodeBody(r, &next); err != nil {
			writeError(w, err)
			return
		}
		// An empty incoming hash means "unchanged", so a client can round
		// trip the masked GET body without locking itself out.
		if next.Server.AdminPasswordHash == "" {
			next.Server.AdminPasswordHash = old.Server.AdminPasswordHash
		}
		if err := validateSystem(&next); err != nil {
			writeError(w, fmt.Errorf("%w: %v", modErrors.ErrInvalidInput, err))
			return
		}
		changed, err := s.ctrl.UpdateConfig(r.Context(), &next)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changed": changed})

	default:
		methodNotAllowed(w)
	}
}

func validateSystem(c *config.SystemConfig) error {
	if c.Scan.LoopCD <= 0 {
		return fmt.Errorf("scan.loop_cd must be positive")
	}
	if c.Scan.QueryCD < 0 {
		return fmt.Errorf("scan.query_cd must not be negative")
	}
	if c.Scan.ThreadPageForward < 1 {
		return fmt.Errorf("scan.thread_page_forward must be at least 1")
	}
	if c.Scan.PostPageForward < 1 {
		return fmt.Errorf("scan.post_page_forward must be at least 1")
	}
	if c.Scan.PostPageBackward < 0 || c.Scan.CommentPageBackward < 0 {
		return fmt.Errorf("scan page windows must not be negative")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.ctrl.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"running": s.ctrl.Running()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.ctrl.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"running": s.ctrl.Running()})
}

// handleRulesMeta serves the registered condition and operation types with
// their option descriptors, the contract the rule editor is built from.
func (s *Server) handleRulesMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conditions": rules.ConditionInfos(),
		"operations": rules.OperationInfos(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	lines := logging.GetBroadcaster().History()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(lines), "lines": lines})
}
