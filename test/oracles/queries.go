package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_active_session",
			SQL: `SELECT application_id, COUNT(*) FROM interview_sessions
                  WHERE NOT is_complete
                  GROUP BY application_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_approved_iff_converted",
			SQL: `SELECT a.id, a.status, a.converted_user_id FROM broker_applications a
                  LEFT JOIN brokers b ON b.broker_id = a.converted_user_id
                  WHERE (a.status = 'approved') <> (a.converted_user_id IS NOT NULL)
                     OR (a.converted_user_id IS NOT NULL AND b.broker_id IS NULL)`,
		},
		{
			Name: "O3_decision_matches_session",
			SQL: `SELECT a.id, a.status, s.id, s.final_result FROM broker_applications a
                  JOIN interview_sessions s ON s.application_id = a.id AND s.is_complete
                  WHERE a.interview_result IS DISTINCT FROM s.final_result
                     OR a.interview_score IS DISTINCT FROM s.total_score`,
		},
		{
			Name: "O4_terminal_has_decision",
			SQL: `SELECT id, status FROM broker_applications
                  WHERE status IN ('approved','rejected')
                    AND (interview_result IS NULL OR interview_result <> status)`,
		},
		{
			Name: "O5_threshold_respected",
			SQL: `SELECT id, interview_score, interview_result FROM broker_applications
                  WHERE (interview_result = 'approved' AND interview_score < 75)
                     OR (interview_result = 'rejected' AND interview_score >= 75)`,
		},
		{
			Name: "O6_one_decision_event",
			SQL: `SELECT payload->>'application_id', COUNT(*) FROM outbox
                  WHERE topic = 'application.decided'
                  GROUP BY payload->>'application_id' HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT a.id, 0 FROM broker_applications a
                  WHERE a.status IN ('approved','rejected')
                    AND NOT EXISTS (SELECT 1 FROM outbox o
                                    WHERE o.topic = 'application.decided'
                                      AND o.payload->>'application_id' = a.id)`,
		},
		{
			Name: "O7_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
