package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokeronboard/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicatePhone signals that the phone number is already registered.
	ErrDuplicatePhone = errors.New("auth: phone already registered")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	ID           string
	Name         string
	Phone        string
	Email        *string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, name, phone, email, COALESCE(password_hash, ''), role, is_active, created_at`

// CreateUser inserts a new active user. The phone must be free in both users
// and broker_applications; the check and insert share the phone lock taken by
// application creation.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (id, name, phone, email, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING ` + userColumns

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("auth: begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.LockPhone(ctx, tx, params.Phone); err != nil {
		return User{}, err
	}
	taken, err := phoneInUse(ctx, tx, params.Phone)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrDuplicatePhone
	}

	user, err := scanUser(tx.QueryRow(ctx, insertSQL,
		params.ID, params.Name, params.Phone, params.Email, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicatePhone
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("auth: commit create user: %w", err)
	}

	return user, nil
}

func phoneInUse(ctx context.Context, q pgx.Tx, phone string) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1)
		    OR EXISTS (SELECT 1 FROM broker_applications WHERE applicant_phone = $1)`

	var exists bool
	if err := q.QueryRow(ctx, query, phone).Scan(&exists); err != nil {
		return false, fmt.Errorf("auth: check phone: %w", err)
	}
	return exists, nil
}

// GetUserByPhone retrieves a user by phone number.
func (r *PGRepository) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE phone = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by phone: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// PhoneRegistered reports whether any user already owns phone.
func (r *PGRepository) PhoneRegistered(ctx context.Context, phone string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, phone).Scan(&exists); err != nil {
		return false, fmt.Errorf("auth: check phone: %w", err)
	}
	return exists, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Phone,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
