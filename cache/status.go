package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"brokeronboard/application"
)

const statusKeyPrefix = "onboarding:application-status:"

// StatusCache stores application status projections in Redis. Entries are
// short-lived and are dropped whenever the workflow changes an application.
type StatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewStatusCache wraps client. A non-positive ttl falls back to thirty seconds.
func NewStatusCache(client redis.Cmdable, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{client: client, ttl: ttl}
}

// Get returns the cached view and whether it was present.
func (c *StatusCache) Get(ctx context.Context, applicationID string) (application.StatusView, bool, error) {
	raw, err := c.client.Get(ctx, statusKey(applicationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return application.StatusView{}, false, nil
		}
		return application.StatusView{}, false, fmt.Errorf("cache: get status: %w", err)
	}

	var view application.StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		// A corrupt entry is treated as a miss and removed.
		_ = c.client.Del(ctx, statusKey(applicationID)).Err()
		return application.StatusView{}, false, nil
	}
	return view, true, nil
}

// Set stores view under its application id.
func (c *StatusCache) Set(ctx context.Context, view application.StatusView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("cache: encode status: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(view.ApplicationID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set status: %w", err)
	}
	return nil
}

// Invalidate drops the cached view for applicationID.
func (c *StatusCache) Invalidate(ctx context.Context, applicationID string) error {
	if err := c.client.Del(ctx, statusKey(applicationID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate status: %w", err)
	}
	return nil
}

func statusKey(applicationID string) string {
	return statusKeyPrefix + applicationID
}
