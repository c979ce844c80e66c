// Package confirm persists a user's pending manual confirmations. Each
// store is a single JSON file owned by one user worker; entries are keyed
// by pid and expire after the user's confirm_expire window.
package confirm

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
)

// Data is one pending confirmation: the content awaiting a decision, the
// facts snapshotted when it was enqueued, and the operations to run on
// approval.
type Data struct {
	Content     models.Content
	Data        map[string]any
	Operations  config.OperationSpec
	ProcessTime int64
	RuleName    string
}

type dataJSON struct {
	Content     json.RawMessage      `json:"content"`
	Data        map[string]any       `json:"data"`
	Operations  config.OperationSpec `json:"operations"`
	ProcessTime int64                `json:"process_time"`
	RuleName    string               `json:"rule_name"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	content, err := models.MarshalContent(d.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal confirm content: %w", err)
	}
	return json.Marshal(dataJSON{
		Content:     content,
		Data:        d.Data,
		Operations:  d.Operations,
		ProcessTime: d.ProcessTime,
		RuleName:    d.RuleName,
	})
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var tmp dataJSON
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	content, err := models.UnmarshalContent(tmp.Content)
	if err != nil {
		return fmt.Errorf("unmarshal confirm content: %w", err)
	}
	d.Content = content
	d.Data = tmp.Data
	d.Operations = tmp.Operations
	d.ProcessTime = tmp.ProcessTime
	d.RuleName = tmp.RuleName
	return nil
}

type entry struct {
	Data     Data  `json:"data"`
	ExpireAt int64 `json:"expire_at"` // unix seconds, 0 means never
}

// Store is the disk-backed confirmation queue of one user. All methods are
// safe for concurrent use; every mutation is flushed to disk before it
// returns.
type Store struct {
	mu      sync.Mutex
	user    string
	path    string
	ttl     int64 // seconds, 0 means entries never expire
	entries map[int64]entry
	now     func() int64
}

// Open loads the store at path, creating it on first use. An unreadable
// file is logged and treated as empty; the old content is overwritten on
// the next mutation.
func Open(user, path string, ttl int64) (*Store, error) {
	s := &Store{
		user:    user,
		path:    path,
		ttl:     ttl,
		entries: map[int64]entry{},
		now:     func() int64 { return time.Now().Unix() },
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read confirm store: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		log.Warn().Err(err).Str("user", user).Str("path", path).
			Msg("confirm store unreadable, starting empty")
		s.entries = map[int64]entry{}
	}
	metrics.SetConfirmsPending(user, s.lenLocked())
	return s, nil
}

// Set enqueues d under pid with a fresh TTL, replacing any previous entry.
func (s *Store) Set(pid int64, d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{Data: d}
	if s.ttl != 0 {
		e.ExpireAt = s.now() + s.ttl
	}
	s.entries[pid] = e
	return s.saveLocked()
}

// Get returns the entry for pid if it exists and has not expired.
func (s *Store) Get(pid int64) (Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[pid]
	if !ok || s.expiredLocked(e) {
		return Data{}, false
	}
	return e.Data, true
}

// Delete removes the entry for pid and reports whether a live entry was
// removed.
func (s *Store) Delete(pid int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[pid]
	if !ok {
		return false, nil
	}
	delete(s.entries, pid)
	return !s.expiredLocked(e), s.saveLocked()
}

// Values returns every live entry, oldest first.
func (s *Store) Values() []Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Data, 0, len(s.entries))
	for _, e := range s.entries {
		if !s.expiredLocked(e) {
			out = append(out, e.Data)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessTime != out[j].ProcessTime {
			return out[i].ProcessTime < out[j].ProcessTime
		}
		return out[i].Content.Base().Pid < out[j].Content.Base().Pid
	})
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

// SetExpireTime shifts every live entry's deadline by the difference
// between the new and the old TTL. Entries pushed to or past zero are
// dropped. Future Sets use the new TTL.
func (s *Store) SetExpireTime(newTTL int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := newTTL - s.ttl
	now := s.now()
	for pid, e := range s.entries {
		if e.ExpireAt == 0 {
			continue
		}
		if e.ExpireAt <= now {
			delete(s.entries, pid)
			continue
		}
		e.ExpireAt += delta
		if e.ExpireAt <= now {
			delete(s.entries, pid)
			continue
		}
		s.entries[pid] = e
	}
	s.ttl = newTTL
	return s.saveLocked()
}

// Purge drops expired entries. Wired to the daily ClearCache broadcast by
// the owning user worker.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := false
	for pid, e := range s.entries {
		if s.expiredLocked(e) {
			delete(s.entries, pid)
			dropped = true
		}
	}
	if !dropped {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) expiredLocked(e entry) bool {
	return e.ExpireAt > 0 && e.ExpireAt <= s.now()
}

func (s *Store) lenLocked() int {
	n := 0
	for _, e := range s.entries {
		if !s.expiredLocked(e) {
			n++
		}
	}
	return n
}

func (s *Store) saveLocked() error {
	metrics.SetConfirmsPending(s.user, s.lenLocked())
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("marshal confirm store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
