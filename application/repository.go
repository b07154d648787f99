package application

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
	// ErrNotFound signals that the application does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrDuplicatePhone signals that an application or account already uses the phone.
	ErrDuplicatePhone = errors.New("application: phone already registered")
	// ErrInvalidInput signals a malformed create request or filter.
	ErrInvalidInput = errors.New("application: invalid input")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Repository persists applications.
type Repository interface {
	Create(ctx context.Context, app NewApplication) (Application, error)
	GetByID(ctx context.Context, id string) (Application, error)
	List(ctx context.Context, filters Filters) (Page, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed application repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Columns is the default column list; it never includes password_hash.
const Columns = `id, applicant_phone, applicant_name, applicant_email, requested_area_ids, status,
	interview_score, interview_result, created_at, interview_started_at, interview_completed_at,
	notes, converted_user_id`

// Create inserts a pending application. Under the phone lock it refuses a
// phone that already belongs to a user account.
func (r *PGRepository) Create(ctx context.Context, app NewApplication) (Application, error) {
	const insertSQL = `
		INSERT INTO broker_applications (id, applicant_phone, applicant_name, applicant_email, password_hash, requested_area_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending_interview')
		RETURNING ` + Columns

	areaIDs := app.AreaIDs
	if areaIDs == nil {
		areaIDs = []string{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.LockPhone(ctx, tx, app.Phone); err != nil {
		return Application{}, err
	}
	var userExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1)`, app.Phone).Scan(&userExists); err != nil {
		return Application{}, fmt.Errorf("application: check phone: %w", err)
	}
	if userExists {
		return Application{}, ErrDuplicatePhone
	}

	created, err := Scan(tx.QueryRow(ctx, insertSQL,
		app.ID, app.Phone, app.Name, app.Email, app.PasswordHash, areaIDs))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Application{}, ErrDuplicatePhone
		}
		return Application{}, fmt.Errorf("application: create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit create: %w", err)
	}
	return created, nil
}

// GetByID loads a single application.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Application, error) {
	const query = `SELECT ` + Columns + ` FROM broker_applications WHERE id = $1`

	app, err := Scan(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get by id: %w", err)
	}
	return app, nil
}

// List returns applications newest first, optionally filtered by status.
func (r *PGRepository) List(ctx context.Context, filters Filters) (Page, error) {
	limit, offset := normalizePage(filters.Limit, filters.Offset)

	var status any
	if filters.Status != "" {
		status = string(filters.Status)
	}

	const countSQL = `SELECT COUNT(*) FROM broker_applications WHERE ($1::text IS NULL OR status = $1::text)`
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, status).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("application: count: %w", err)
	}

	const listSQL = `
		SELECT ` + Columns + `
		FROM broker_applications
		WHERE ($1::text IS NULL OR status = $1::text)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, listSQL, status, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("application: list: %w", err)
	}
	defer rows.Close()

	items := make([]Application, 0, limit)
	for rows.Next() {
		app, err := Scan(rows)
		if err != nil {
			return Page{}, fmt.Errorf("application: scan: %w", err)
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("application: iterate: %w", err)
	}

	return Page{Items: items, Total: total}, nil
}

// Scan reads a row selected with Columns.
func Scan(row pgx.Row) (Application, error) {
	var (
		app    Application
		result *string
	)
	err := row.Scan(
		&app.ID,
		&app.Phone,
		&app.Name,
		&app.Email,
		&app.RequestedAreaIDs,
		&app.Status,
		&app.InterviewScore,
		&result,
		&app.CreatedAt,
		&app.InterviewStartedAt,
		&app.InterviewCompletedAt,
		&app.Notes,
		&app.ConvertedUserID,
	)
	if err != nil {
		return Application{}, err
	}
	if result != nil {
		r := Result(*result)
		app.InterviewResult = &r
	}
	if app.RequestedAreaIDs == nil {
		app.RequestedAreaIDs = []string{}
	}
	return app, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
