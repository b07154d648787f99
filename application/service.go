package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"brokeronboard/logger"
	"brokeronboard/metrics"
)

// passwordCost matches the cost the registration flow has always used.
const passwordCost = 10

// PhoneChecker reports whether a phone already belongs to a user account.
type PhoneChecker interface {
	PhoneRegistered(ctx context.Context, phone string) (bool, error)
}

// StatusCache is an optional read-through cache for status projections.
type StatusCache interface {
	Get(ctx context.Context, applicationID string) (StatusView, bool, error)
	Set(ctx context.Context, view StatusView) error
	Invalidate(ctx context.Context, applicationID string) error
}

// Service exposes the application lifecycle operations that do not involve
// the interview itself.
type Service struct {
	repo   Repository
	users  PhoneChecker
	cache  StatusCache
	log    *zap.Logger
	newID  func() string
	hashFn func(password []byte) ([]byte, error)
}

// NewService builds a Service. cache may be nil.
func NewService(repo Repository, users PhoneChecker, cache StatusCache, log *zap.Logger) *Service {
	return &Service{
		repo:  repo,
		users: users,
		cache: cache,
		log:   logger.OrNop(log),
		newID: uuid.NewString,
		hashFn: func(password []byte) ([]byte, error) {
			return bcrypt.GenerateFromPassword(password, passwordCost)
		},
	}
}

// WithIDGenerator overrides identifier generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Create registers a new applicant awaiting interview.
func (s *Service) Create(ctx context.Context, params CreateParams) (Application, error) {
	phone := strings.TrimSpace(params.Phone)
	name := strings.TrimSpace(params.Name)
	if phone == "" || name == "" || params.Password == "" {
		return Application{}, fmt.Errorf("%w: phone, name and password are required", ErrInvalidInput)
	}

	areaIDs := make([]string, 0, len(params.AreaIDs))
	seen := make(map[string]struct{}, len(params.AreaIDs))
	for _, id := range params.AreaIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return Application{}, fmt.Errorf("%w: empty area id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		areaIDs = append(areaIDs, id)
	}

	if s.users != nil {
		taken, err := s.users.PhoneRegistered(ctx, phone)
		if err != nil {
			return Application{}, err
		}
		if taken {
			return Application{}, ErrDuplicatePhone
		}
	}

	hash, err := s.hashFn([]byte(params.Password))
	if err != nil {
		return Application{}, fmt.Errorf("application: hash password: %w", err)
	}

	app, err := s.repo.Create(ctx, NewApplication{
		ID:           s.newID(),
		Phone:        phone,
		Name:         name,
		Email:        params.Email,
		PasswordHash: string(hash),
		AreaIDs:      areaIDs,
	})
	if err != nil {
		return Application{}, err
	}

	metrics.ApplicationsCreated.Inc()
	s.log.Info("application created",
		zap.String("application_id", app.ID),
		logger.Phone("phone", app.Phone),
		zap.Int("requested_areas", len(app.RequestedAreaIDs)))
	return app, nil
}

// GetStatus returns the applicant-facing status projection.
func (s *Service) GetStatus(ctx context.Context, id string) (StatusView, error) {
	if s.cache != nil {
		view, ok, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			metrics.StatusCacheLookups.WithLabelValues("error").Inc()
			s.log.Warn("status cache read failed", zap.String("application_id", id), zap.Error(err))
		case ok:
			metrics.StatusCacheLookups.WithLabelValues("hit").Inc()
			return view, nil
		default:
			metrics.StatusCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	view := app.StatusView()

	if s.cache != nil {
		if err := s.cache.Set(ctx, view); err != nil {
			s.log.Warn("status cache write failed", zap.String("application_id", id), zap.Error(err))
		}
	}
	return view, nil
}

// Get returns the full application record.
func (s *Service) Get(ctx context.Context, id string) (Application, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of applications for supervisors.
func (s *Service) List(ctx context.Context, filters Filters) (Page, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filters.Status)
	}
	return s.repo.List(ctx, filters)
}
