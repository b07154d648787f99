package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate applies every .sql file found at the root of fsys in lexical order.
// The schema files are written to be re-runnable.
func Migrate(ctx context.Context, exec Execer, fsys fs.FS) error {
	files, err := SQLFiles(fsys)
	if err != nil {
		return err
	}
	for _, name := range files {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("db: read migration %s: %w", name, err)
		}
		if _, err := exec.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("db: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// SQLFiles lists the .sql files at the root of fsys, sorted.
func SQLFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("db: list migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
