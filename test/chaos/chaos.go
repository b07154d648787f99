package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateBackends periodically kills one random backend tagged with
// appName, dropping whatever transaction it was running. It returns the
// number of backends terminated once stopped.
func TerminateBackends(ctx context.Context, pool *pgxpool.Pool, appName string, every time.Duration, stop <-chan struct{}) int64 {
	var killed int64
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(3) != 0 {
				continue
			}
			var ok bool
			err := pool.QueryRow(ctx, `
				SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
				FROM (SELECT pid FROM pg_stat_activity
				      WHERE datname = current_database()
				        AND application_name = $1
				        AND state <> 'idle'
				        AND pid <> pg_backend_pid()
				      ORDER BY random() LIMIT 1) victim`, appName).Scan(&ok)
			if err == nil && ok {
				killed++
			}
		}
	}
}
