package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtm/webtm-go/internal/config"
)

func TestOpenRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(config.DatabaseConfig{Type: "sqlite", Path: path})
	require.NoError(t, err)

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, len(migrations), applied)
	require.NoError(t, s.Close())

	// Reopening an existing database must not re-apply anything.
	s, err = Open(config.DatabaseConfig{Type: "sqlite", Path: path})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, len(migrations), applied)
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	pg := &Store{dialect: DialectPostgres}

	q := `INSERT INTO t (a, b) VALUES (?, ?)`
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, `INSERT INTO t (a, b) VALUES ($1, $2)`, pg.rebind(q))
	assert.Equal(t, `SELECT 1`, pg.rebind(`SELECT 1`))
}

func TestConflictClause(t *testing.T) {
	clause, err := conflictClause(batchSpec{
		table:   "t",
		columns: []string{"id", "a", "b"},
		pk:      []string{"id"},
		mode:    ConflictUpsert,
	})
	require.NoError(t, err)
	assert.Equal(t, ` ON CONFLICT (id) DO UPDATE SET a = excluded.a, b = excluded.b`, clause)

	clause, err = conflictClause(batchSpec{
		table:   "t",
		columns: []string{"id", "a"},
		pk:      []string{"id"},
		mode:    ConflictIgnore,
	})
	require.NoError(t, err)
	assert.Equal(t, ` ON CONFLICT (id) DO NOTHING`, clause)

	// Nothing left to update collapses to DO NOTHING.
	clause, err = conflictClause(batchSpec{
		table:   "t",
		columns: []string{"id"},
		pk:      []string{"id"},
		mode:    ConflictUpsert,
	})
	require.NoError(t, err)
	assert.Equal(t, ` ON CONFLICT (id) DO NOTHING`, clause)
}
