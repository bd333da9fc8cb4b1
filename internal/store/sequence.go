package store

import (
	"context"
	"database/sql"
	"fmt"
)

// nextSequence bumps the named counter inside tx and returns the new value.
// A value is never handed out twice, even after the rows carrying it are
// deleted.
func nextSequence(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `INSERT INTO ledger_sequence (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1
		RETURNING value`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	return v, nil
}
