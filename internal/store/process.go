package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	modErrors "github.com/webtm/webtm-go/internal/errors"
)

// ProcessLog records one user's verdict on one content item. At most one
// row exists per (pid, user); reprocessing overwrites it.
type ProcessLog struct {
	Pid         int64  `json:"pid"`
	User        string `json:"user"`
	Tid         int64  `json:"tid"`
	CreateTime  int64  `json:"create_time"`
	ProcessTime int64  `json:"process_time"`
	// ResultRule is the matched rule name, empty when nothing matched.
	ResultRule  sql.NullString `json:"-"`
	IsWhitelist sql.NullBool   `json:"-"`
}

// MarshalJSON flattens the nullable columns for API responses.
func (p ProcessLog) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"pid":          p.Pid,
		"user":         p.User,
		"tid":          p.Tid,
		"create_time":  p.CreateTime,
		"process_time": p.ProcessTime,
	}
	if p.ResultRule.Valid {
		out["result_rule"] = p.ResultRule.String
	}
	if p.IsWhitelist.Valid {
		out["is_whitelist"] = p.IsWhitelist.Bool
	}
	return json.Marshal(out)
}

// SaveProcessLog upserts the verdict row.
func (s *Store) SaveProcessLog(ctx context.Context, entry ProcessLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO process_log (pid, "user", tid, create_time, process_time, result_rule, is_whitelist)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pid, "user") DO UPDATE SET
			process_time = excluded.process_time,
			result_rule = excluded.result_rule,
			is_whitelist = excluded.is_whitelist`),
		entry.Pid, entry.User, entry.Tid, entry.CreateTime, entry.ProcessTime,
		entry.ResultRule, entry.IsWhitelist)
	if err != nil {
		return modErrors.WrapStorageError("save_process_log", err)
	}
	return nil
}

// GetProcessLog returns the verdict for (pid, user), or ErrNotFound.
func (s *Store) GetProcessLog(ctx context.Context, pid int64, user string) (*ProcessLog, error) {
	var entry ProcessLog
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT pid, "user", tid, create_time, process_time, result_rule, is_whitelist
		FROM process_log WHERE pid = ? AND "user" = ?`), pid, user,
	).Scan(&entry.Pid, &entry.User, &entry.Tid, &entry.CreateTime, &entry.ProcessTime,
		&entry.ResultRule, &entry.IsWhitelist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, modErrors.ErrNotFound
	}
	if err != nil {
		return nil, modErrors.WrapStorageError("get_process_log", err)
	}
	return &entry, nil
}

// ListProcessLogs returns a user's most recent verdicts, newest first.
func (s *Store) ListProcessLogs(ctx context.Context, user string, limit, offset int) ([]ProcessLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT pid, "user", tid, create_time, process_time, result_rule, is_whitelist
		FROM process_log WHERE "user" = ?
		ORDER BY process_time DESC LIMIT ? OFFSET ?`), user, limit, offset)
	if err != nil {
		return nil, modErrors.WrapStorageError("list_process_logs", err)
	}
	defer rows.Close()

	var out []ProcessLog
	for rows.Next() {
		var entry ProcessLog
		if err := rows.Scan(&entry.Pid, &entry.User, &entry.Tid, &entry.CreateTime,
			&entry.ProcessTime, &entry.ResultRule, &entry.IsWhitelist); err != nil {
			return nil, modErrors.WrapStorageError("list_process_logs", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ProcessContext stores the deduplicated condition evaluations and the
// per-rule step outcomes for one (pid, user) evaluation, as JSON blobs.
type ProcessContext struct {
	Pid        int64           `json:"pid"`
	User       string          `json:"user"`
	Rules      json.RawMessage `json:"rules"`
	Conditions json.RawMessage `json:"conditions"`
}

// SaveProcessContext upserts the context row.
func (s *Store) SaveProcessContext(ctx context.Context, entry ProcessContext) error {
	rules := entry.Rules
	if rules == nil {
		rules = json.RawMessage("[]")
	}
	conditions := entry.Conditions
	if conditions == nil {
		conditions = json.RawMessage("[]")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO process_context (pid, "user", rules, conditions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pid, "user") DO UPDATE SET
			rules = excluded.rules,
			conditions = excluded.conditions`),
		entry.Pid, entry.User, string(rules), string(conditions))
	if err != nil {
		return modErrors.WrapStorageError("save_process_context", err)
	}
	return nil
}

// GetProcessContext returns the evaluation context for (pid, user), or
// ErrNotFound.
func (s *Store) GetProcessContext(ctx context.Context, pid int64, user string) (*ProcessContext, error) {
	var entry ProcessContext
	var rules, conditions string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT pid, "user", rules, conditions FROM process_context
		WHERE pid = ? AND "user" = ?`), pid, user,
	).Scan(&entry.Pid, &entry.User, &rules, &conditions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, modErrors.ErrNotFound
	}
	if err != nil {
		return nil, modErrors.WrapStorageError("get_process_context", err)
	}
	entry.Rules = json.RawMessage(rules)
	entry.Conditions = json.RawMessage(conditions)
	return &entry, nil
}
