package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LockPhone serialises every writer that claims phone, across users and
// broker_applications, until tx ends.
func LockPhone(ctx context.Context, tx pgx.Tx, phone string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('phone:' || $1))`, phone); err != nil {
		return fmt.Errorf("db: lock phone: %w", err)
	}
	return nil
}
