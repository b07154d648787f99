package broker

import "context"

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
}

// Service exposes the supervisor views of converted brokers.
type Service struct {
	repo ProfileReader
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the broker profile for the given user id.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit broker profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	profiles, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].AreaIDs == nil {
			profiles[i].AreaIDs = []string{}
		}
	}
	return profiles, nil
}
