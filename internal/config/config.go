package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultDataDir is used when WEBTM_DATA_DIR is not set.
const DefaultDataDir = "/etc/webtm"

// ScanConfig holds the spider's pagination and pacing parameters.
// The *CD fields are in seconds; QueryCD may be fractional.
type ScanConfig struct {
	LoopCD              float64 `json:"loop_cd"`
	QueryCD             float64 `json:"query_cd"`
	ThreadPageForward   int     `json:"thread_page_forward"`
	PostPageForward     int     `json:"post_page_forward"`
	PostPageBackward    int     `json:"post_page_backward"`
	CommentPageBackward int     `json:"comment_page_backward"`
}

// LoopInterval returns the inter-pass sleep.
func (s ScanConfig) LoopInterval() time.Duration {
	return time.Duration(s.LoopCD * float64(time.Second))
}

// QueryInterval returns the minimum gap between upstream requests.
func (s ScanConfig) QueryInterval() time.Duration {
	return time.Duration(s.QueryCD * float64(time.Second))
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type     string `json:"type"` // "sqlite" or "postgres"
	Path     string `json:"path,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DBName   string `json:"dbname,omitempty"`
}

// ServerConfig holds the admin HTTP surface settings.
type ServerConfig struct {
	ListenAddr        string `json:"listen_addr"`
	MetricsAddr       string `json:"metrics_addr"`
	AllowedOrigins    string `json:"allowed_origins"`
	AdminPasswordHash string `json:"admin_password_hash,omitempty"`
}

// CacheConfig controls content-cache and confirm-store expiry.
type CacheConfig struct {
	// PidExpire is how long a content row survives without being seen
	// again, in seconds.
	PidExpire int64 `json:"pid_expire"`
	// CleanupTime is the daily "HH:MM" wall-clock tick for the sweeper.
	CleanupTime string `json:"cleanup_time"`
}

// LogConfig mirrors logging.Config in the persisted file.
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// SystemConfig is the process-wide configuration persisted as config.json
// in the data directory.
type SystemConfig struct {
	Scan     ScanConfig     `json:"scan"`
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Cache    CacheConfig    `json:"cache"`
	Log      LogConfig      `json:"log"`
}

// DefaultSystem returns the built-in defaults.
func DefaultSystem(dataDir string) *SystemConfig {
	return &SystemConfig{
		Scan: ScanConfig{
			LoopCD:              10,
			QueryCD:             0.05,
			ThreadPageForward:   1,
			PostPageForward:     1,
			PostPageBackward:    1,
			CommentPageBackward: 1,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(dataDir, "webtm.db"),
		},
		Server: ServerConfig{
			ListenAddr:  ":7767",
			MetricsAddr: ":9191",
		},
		Cache: CacheConfig{
			PidExpire:   7 * 24 * 3600,
			CleanupTime: "04:00",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  50,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Equal reports whether two configs serialize identically.
func (c *SystemConfig) Equal(other *SystemConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	a, err1 := json.Marshal(c)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Clone returns a deep copy via a JSON round trip.
func (c *SystemConfig) Clone() *SystemConfig {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	out := &SystemConfig{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

// DataDir resolves the data directory from the environment.
func DataDir() string {
	if dir := os.Getenv("WEBTM_DATA_DIR"); dir != "" {
		return dir
	}
	return DefaultDataDir
}

// Load reads the system config: defaults, then the persisted file, then
// environment overrides. A missing file is not an error.
func Load(dataDir string) (*SystemConfig, error) {
	// .env in the data directory carries deployment overrides
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		}
	}
	// .env in the working directory is handy for development
	_ = godotenv.Load()

	cfg := DefaultSystem(dataDir)

	path := filepath.Join(dataDir, "config.json")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("No config file found, using defaults")
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *SystemConfig) {
	if v := os.Getenv("WEBTM_LISTEN"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("WEBTM_METRICS_LISTEN"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("WEBTM_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Server.AdminPasswordHash = v
	}
	if v := os.Getenv("WEBTM_DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("WEBTM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WEBTM_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("WEBTM_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		} else {
			log.Warn().Str("value", v).Msg("Invalid WEBTM_DB_PORT, ignoring")
		}
	}
	if v := os.Getenv("WEBTM_DB_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("WEBTM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("WEBTM_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("WEBTM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WEBTM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WEBTM_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}
