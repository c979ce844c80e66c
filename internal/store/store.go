// Package store provides the relational persistence layer: the content
// cache driving the update classifier, author bookkeeping and the per-user
// process log. SQLite is the default backend; PostgreSQL is supported for
// multi-instance deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/webtm/webtm-go/internal/config"
)

// Dialect selects placeholder and DSN handling per backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps the database handle. All methods are safe for concurrent
// use; SQLite access is serialized through a single connection.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the configured backend and applies pending migrations.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	switch cfg.Type {
	case "", "sqlite":
		dialect = DialectSQLite
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite database path not configured")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for concurrent readers alongside the single writer
		db, err = sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

	case "postgres", "postgresql":
		dialect = DialectPostgres
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBName)
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		db.SetMaxOpenConns(10)

	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("type", string(dialect)).Msg("Database initialized")
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ?-placeholders to $N for postgres. SQL text in this
// package never contains a literal question mark.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type migration struct {
	version int
	name    string
	sql     string
}

// Migrations use dialect-neutral SQL: TEXT/INTEGER types, quoted "user"
// identifiers and ON CONFLICT upserts work on both backends.
var migrations = []migration{
	{
		version: 1,
		name:    "core tables",
		sql: `
CREATE TABLE IF NOT EXISTS forum (
	fname TEXT PRIMARY KEY,
	fid INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS "user" (
	user_id INTEGER PRIMARY KEY,
	user_name TEXT,
	nick_name TEXT,
	portrait TEXT,
	level INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS user_level (
	user_id INTEGER NOT NULL,
	fname TEXT NOT NULL,
	level INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, fname)
);

CREATE TABLE IF NOT EXISTS content (
	pid INTEGER PRIMARY KEY,
	tid INTEGER NOT NULL,
	fname TEXT NOT NULL,
	create_time INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	floor INTEGER NOT NULL DEFAULT 0,
	images TEXT NOT NULL DEFAULT '[]',
	type TEXT NOT NULL,
	last_time INTEGER,
	reply_num INTEGER,
	last_update INTEGER NOT NULL,
	author_id INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_content_tid ON content(tid);
CREATE INDEX IF NOT EXISTS idx_content_last_update ON content(last_update);

CREATE TABLE IF NOT EXISTS process_log (
	pid INTEGER NOT NULL,
	"user" TEXT NOT NULL,
	tid INTEGER NOT NULL,
	create_time INTEGER NOT NULL,
	process_time INTEGER NOT NULL,
	result_rule TEXT,
	is_whitelist INTEGER,
	PRIMARY KEY (pid, "user")
);

CREATE TABLE IF NOT EXISTS process_context (
	pid INTEGER NOT NULL,
	"user" TEXT NOT NULL,
	rules TEXT NOT NULL DEFAULT '[]',
	conditions TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (pid, "user")
);`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(s.rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
			m.version, m.name, nowUnix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Debug().Int("version", m.version).Str("name", m.name).Msg("Applied migration")
	}
	return nil
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
