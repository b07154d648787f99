package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested broker does not exist.
var ErrNotFound = errors.New("broker: not found")

// Repository provides read access to broker profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileQuery = `
	SELECT u.id, u.name, u.phone, u.email, u.is_active,
	       b.overall_rate, b.response_speed_score, b.closing_rate,
	       b.lost_requests_count, b.withdrawn_requests_count,
	       COALESCE(ARRAY(SELECT a.area_id FROM broker_areas a WHERE a.broker_id = b.broker_id ORDER BY a.area_id), '{}'),
	       b.created_at
	FROM brokers b
	JOIN users u ON u.id = b.broker_id`

// GetByID fetches a broker profile by its user id.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	profile, err := scanProfile(r.pool.QueryRow(ctx, profileQuery+` WHERE b.broker_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("broker: query by id: %w", err)
	}
	return profile, nil
}

// List fetches up to limit broker profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, profileQuery+` ORDER BY u.name ASC, u.id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("broker: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("broker: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("broker: iterate profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.UserID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.IsActive,
		&p.OverallRate,
		&p.ResponseSpeedScore,
		&p.ClosingRate,
		&p.LostRequestsCount,
		&p.WithdrawnRequestsCount,
		&p.AreaIDs,
		&p.CreatedAt,
	)
	return p, err
}
