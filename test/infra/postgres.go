package infra

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// mutableTables lists every table a stress epoch writes, children first.
var mutableTables = []string{
	"outbox",
	"interview_responses",
	"interview_sessions",
	"broker_applications",
	"broker_areas",
	"brokers",
	"users",
}

// Reset truncates the onboarding tables for a clean epoch.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(mutableTables, ", ")+" CASCADE")
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Dump returns the most recent rows of the tables oracles look at, one line
// per row, for failure reports.
func Dump(ctx context.Context, pool *pgxpool.Pool) []string {
	queries := []struct{ name, sql string }{
		{"broker_applications", `SELECT id, status, interview_score, interview_result, converted_user_id FROM broker_applications ORDER BY created_at DESC LIMIT 20`},
		{"interview_sessions", `SELECT id, application_id, current_phase, is_complete, total_score, final_result FROM interview_sessions ORDER BY started_at DESC LIMIT 20`},
		{"outbox", `SELECT id, topic, status, attempts, last_error FROM outbox ORDER BY created_at DESC LIMIT 20`},
	}

	var out []string
	for _, q := range queries {
		rows, err := pool.Query(ctx, q.sql)
		if err != nil {
			out = append(out, fmt.Sprintf("%s: %v", q.name, err))
			continue
		}
		cols := rows.FieldDescriptions()
		for rows.Next() {
			vals, _ := rows.Values()
			parts := make([]string, 0, len(vals))
			for i, v := range vals {
				parts = append(parts, fmt.Sprintf("%s=%v", cols[i].Name, v))
			}
			out = append(out, q.name+": "+strings.Join(parts, " "))
		}
		rows.Close()
	}
	return out
}
