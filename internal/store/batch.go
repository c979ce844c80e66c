package store

import (
	"context"
	"fmt"
	"strings"

	modErrors "github.com/webtm/webtm-go/internal/errors"
)

// ConflictMode selects what a bulk save does when the primary key exists.
type ConflictMode string

const (
	// ConflictIgnore keeps the existing row.
	ConflictIgnore ConflictMode = "ignore"
	// ConflictUpsert updates every non-PK column not explicitly excluded.
	ConflictUpsert ConflictMode = "upsert"
)

const defaultChunkSize = 1000

type batchSpec struct {
	table   string
	columns []string
	pk      []string
	exclude []string
	mode    ConflictMode
}

// saveBatch inserts rows in chunks using the dialect's native upsert with
// the primary key as conflict target.
func (s *Store) saveBatch(ctx context.Context, spec batchSpec, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		spec.table, strings.Join(spec.columns, ", "))
	tail, err := conflictClause(spec)
	if err != nil {
		return err
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(spec.columns)), ", ") + ")"

	for start := 0; start < len(rows); start += defaultChunkSize {
		end := start + defaultChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(spec.columns))
		for i, row := range chunk {
			if len(row) != len(spec.columns) {
				return fmt.Errorf("row has %d values, want %d", len(row), len(spec.columns))
			}
			tuples[i] = tuple
			args = append(args, row...)
		}

		query := s.rebind(head + strings.Join(tuples, ", ") + tail)
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return modErrors.WrapStorageError("save_batch "+spec.table, err)
		}
	}
	return nil
}

func conflictClause(spec batchSpec) (string, error) {
	target := strings.Join(spec.pk, ", ")

	switch spec.mode {
	case ConflictIgnore:
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target), nil

	case ConflictUpsert:
		skip := make(map[string]bool, len(spec.pk)+len(spec.exclude))
		for _, c := range spec.pk {
			skip[c] = true
		}
		for _, c := range spec.exclude {
			skip[c] = true
		}
		var sets []string
		for _, c := range spec.columns {
			if skip[c] {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		if len(sets) == 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target), nil
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(sets, ", ")), nil

	default:
		return "", fmt.Errorf("unknown conflict mode %q", spec.mode)
	}
}
