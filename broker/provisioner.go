package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"brokeronboard/application"
	"brokeronboard/logger"
)

var (
	// ErrNotConvertible signals the application is not in a state that can be promoted.
	ErrNotConvertible = errors.New("broker: application cannot be converted")
	// ErrPhoneTaken signals a user with the applicant's phone already exists.
	ErrPhoneTaken = errors.New("broker: phone already registered")
)

// Provisioner turns an approved application into a broker account.
type Provisioner struct {
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// NewProvisioner builds a Provisioner.
func NewProvisioner(log *zap.Logger) *Provisioner {
	return &Provisioner{
		log:   logger.OrNop(log),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithIDGenerator overrides user id generation.
func (p *Provisioner) WithIDGenerator(gen func() string) *Provisioner {
	if gen != nil {
		p.newID = gen
	}
	return p
}

// ProvisionFromApplication inserts the user, broker and broker_areas rows for
// app inside tx and returns the new user id. The caller holds the
// application row lock and records the decision afterwards.
func (p *Provisioner) ProvisionFromApplication(ctx context.Context, tx pgx.Tx, app application.Application) (string, error) {
	if app.ID == "" || app.Status != application.StatusInterviewInProgress || app.ConvertedUserID != nil {
		return "", ErrNotConvertible
	}

	var passwordHash string
	const hashSQL = `SELECT password_hash FROM broker_applications WHERE id = $1`
	if err := tx.QueryRow(ctx, hashSQL, app.ID).Scan(&passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotConvertible
		}
		return "", fmt.Errorf("broker: read application credentials: %w", err)
	}

	userID := p.newID()
	now := p.now()

	const userSQL = `
		INSERT INTO users (id, name, phone, email, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, 'broker', TRUE, $6)`
	if _, err := tx.Exec(ctx, userSQL, userID, app.Name, app.Phone, app.Email, passwordHash, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrPhoneTaken
		}
		return "", fmt.Errorf("broker: insert user: %w", err)
	}

	const brokerSQL = `INSERT INTO brokers (broker_id, created_at) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, brokerSQL, userID, now); err != nil {
		return "", fmt.Errorf("broker: insert broker: %w", err)
	}

	if len(app.RequestedAreaIDs) > 0 {
		const areasSQL = `
			INSERT INTO broker_areas (broker_id, area_id)
			SELECT $1, area FROM unnest($2::text[]) AS area
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, areasSQL, userID, app.RequestedAreaIDs); err != nil {
			return "", fmt.Errorf("broker: insert areas: %w", err)
		}
	}

	p.log.Info("broker provisioned",
		zap.String("application_id", app.ID),
		zap.String("user_id", userID),
		logger.Phone("phone", app.Phone),
		zap.Int("areas", len(app.RequestedAreaIDs)))
	return userID, nil
}
