// Package notify delivers outbox messages written by the decision transaction.
package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a claimed outbox row.
type Message struct {
	ID       int64
	Topic    string
	Payload  []byte
	Attempts int
}

// Outcome is the state a message is left in after a delivery attempt.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeRetry     Outcome = "retry"
	OutcomeDead      Outcome = "dead"
)

// Summary counts the outcomes of one batch.
type Summary struct {
	Processed int
	Retried   int
	Dead      int
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeRetry:
		s.Retried++
	case OutcomeDead:
		s.Dead++
	}
}

// Total is the number of messages handled.
func (s Summary) Total() int { return s.Processed + s.Retried + s.Dead }

// settle decides what happens to a message whose attempt count before this
// delivery was attempts.
func settle(attempts, maxAttempts int, deliveryErr error) Outcome {
	if deliveryErr == nil {
		return OutcomeProcessed
	}
	if attempts+1 >= maxAttempts {
		return OutcomeDead
	}
	return OutcomeRetry
}

// Handler delivers one message.
type Handler func(ctx context.Context, m Message) error

// PGStore claims pending outbox rows with SKIP LOCKED so several relays can
// share the table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Process claims up to limit pending messages, hands each to fn and records
// the outcome, all in one transaction. Row locks are held while fn runs.
func (s *PGStore) Process(ctx context.Context, limit, maxAttempts int, fn Handler) (Summary, error) {
	var summary Summary

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return summary, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, limit)
	if err != nil {
		return summary, fmt.Errorf("notify: claim outbox: %w", err)
	}
	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return summary, fmt.Errorf("notify: scan outbox row: %w", err)
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("notify: iterate outbox: %w", err)
	}

	for _, m := range messages {
		deliveryErr := fn(ctx, m)
		outcome := settle(m.Attempts, maxAttempts, deliveryErr)

		var lastErr *string
		if deliveryErr != nil {
			msg := deliveryErr.Error()
			lastErr = &msg
		}
		status := string(outcome)
		if outcome == OutcomeRetry {
			status = "pending"
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox
			SET status = $2, attempts = attempts + 1, last_attempt = NOW(), last_error = $3
			WHERE id = $1`, m.ID, status, lastErr); err != nil {
			return summary, fmt.Errorf("notify: record outcome of %d: %w", m.ID, err)
		}
		summary.add(outcome)
	}

	if err := tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("notify: commit batch: %w", err)
	}
	return summary, nil
}
