package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokeronboard/db"
	"brokeronboard/migrations"
)

// AppName tags every stress connection so chaos only kills our own backends.
const AppName = "onboarding-stress"

// Open connects to dsn and applies the embedded schema. When isolate is true a
// per-run schema is created and dropped by the returned teardown func, so a
// shared database can be reused.
func Open(ctx context.Context, dsn string, isolate bool) (*pgxpool.Pool, func(context.Context) error, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.MaxConns = 32
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["application_name"] = AppName

	teardown := func(context.Context) error { return nil }

	if isolate {
		schema := fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect for schema: %w", err)
		}
		_, err = conn.Exec(ctx, "CREATE SCHEMA "+ident)
		conn.Close(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}

		cfg.ConnConfig.RuntimeParams["search_path"] = schema
		teardown = func(ctx context.Context) error {
			conn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)
			_, err = conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pool: %w", err)
	}
	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		_ = teardown(ctx)
		return nil, nil, err
	}
	return pool, teardown, nil
}
