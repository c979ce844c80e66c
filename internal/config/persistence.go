package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	configFileName = "config.json"
	usersDirName   = "users"

	filePerm = os.FileMode(0o600)
	dirPerm  = os.FileMode(0o700)
)

// Persistence owns all config file I/O under the data directory.
type Persistence struct {
	dataDir string
}

func NewPersistence(dataDir string) *Persistence {
	return &Persistence{dataDir: dataDir}
}

// SystemPath returns the system config file path.
func (p *Persistence) SystemPath() string {
	return filepath.Join(p.dataDir, configFileName)
}

func (p *Persistence) usersDir() string {
	return filepath.Join(p.dataDir, usersDirName)
}

// SaveSystem persists the system config atomically.
func (p *Persistence) SaveSystem(cfg *SystemConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal system config: %w", err)
	}
	return writeFileAtomic(p.SystemPath(), data)
}

// SaveUser persists one user config atomically.
func (p *Persistence) SaveUser(cfg *UserConfig) error {
	if err := validateUsername(cfg.Username); err != nil {
		return err
	}
	if err := os.MkdirAll(p.usersDir(), dirPerm); err != nil {
		return fmt.Errorf("create users directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user config: %w", err)
	}
	return writeFileAtomic(p.userPath(cfg.Username), data)
}

// LoadUser reads one user config. os.ErrNotExist passes through for
// missing users.
func (p *Persistence) LoadUser(username string) (*UserConfig, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.userPath(username))
	if err != nil {
		return nil, err
	}
	cfg := NewUserConfig(username)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse user config %s: %w", username, err)
	}
	if cfg.Username == "" {
		cfg.Username = username
	}
	return cfg, nil
}

// LoadUsers reads every user config in the users directory, sorted by
// username. Unreadable files are skipped with the error collected.
func (p *Persistence) LoadUsers() ([]*UserConfig, []error) {
	entries, err := os.ReadDir(p.usersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read users directory: %w", err)}
	}

	var configs []*UserConfig
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		username := strings.TrimSuffix(name, ".json")
		cfg, err := p.LoadUser(username)
		if err != nil {
			errs = append(errs, fmt.Errorf("load user %s: %w", username, err))
			continue
		}
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Username < configs[j].Username })
	return configs, errs
}

// DeleteUser removes one user config file.
func (p *Persistence) DeleteUser(username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	return os.Remove(p.userPath(username))
}

func (p *Persistence) userPath(username string) string {
	return filepath.Join(p.usersDir(), username+".json")
}

// validateUsername rejects names that would escape the users directory.
func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("empty username")
	}
	if strings.ContainsAny(username, `/\`) || username != filepath.Base(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
