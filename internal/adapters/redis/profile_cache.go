package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

// DefaultProfileCacheTTL keeps role or activation changes visible within a minute.
const DefaultProfileCacheTTL = time.Minute

// ProfileCache caches profiles as JSON under "<prefix><user id>".
type ProfileCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewProfileCache creates a profile cache. A non-positive ttl uses DefaultProfileCacheTTL.
func NewProfileCache(client redis.UniversalClient, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileCacheTTL
	}
	return &ProfileCache{client: client, prefix: "profile:", ttl: ttl}
}

var _ ports.ProfileCache = (*ProfileCache)(nil)

// Get returns the cached profile; ok is false on a miss.
func (c *ProfileCache) Get(ctx context.Context, id string) (*domainauth.Profile, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, c.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var p domainauth.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		// Corrupt entries are dropped and treated as a miss.
		_ = c.client.Del(ctx, c.prefix+id).Err()
		return nil, false, nil //nolint:nilerr // treat undecodable cache entries as misses
	}
	return &p, true, nil
}

// Set stores p until the TTL elapses.
func (c *ProfileCache) Set(ctx context.Context, p *domainauth.Profile) error {
	if p == nil || p.ID == "" {
		return errors.New("profile with ID is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return c.client.Set(ctx, c.prefix+p.ID, data, c.ttl).Err()
}

// Invalidate removes the cached profile for id.
func (c *ProfileCache) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return c.client.Del(ctx, c.prefix+id).Err()
}
