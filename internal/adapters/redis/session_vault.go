package redis

// Package redis provides Redis-based adapters for the portal: session vault,
// profile cache, auth event bus and rate limiter.

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

// DefaultSessionTTL bounds how long a token bundle lives without activity.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionVault stores token bundles keyed by the browser session id.
// Entries expire after the configured TTL, which should match the
// backend's refresh-token lifetime rather than the access-token expiry.
type SessionVault struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// SessionVaultOptions configures NewSessionVault.
type SessionVaultOptions struct {
	Prefix string
	TTL    time.Duration
}

// NewSessionVault creates a new Redis-based session vault.
func NewSessionVault(client redis.UniversalClient, opts SessionVaultOptions) *SessionVault {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "session:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionVault{client: client, prefix: prefix, ttl: ttl}
}

var _ ports.SessionVault = (*SessionVault)(nil)

func (s *SessionVault) Save(ctx context.Context, id string, sess domainauth.Session) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+id, data, s.ttl).Err()
}

func (s *SessionVault) Get(ctx context.Context, id string) (domainauth.Session, error) {
	if id == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}
	return sess, nil
}

func (s *SessionVault) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil // Nothing to delete
	}
	return s.client.Del(ctx, s.prefix+id).Err()
}

// ErrNotFound is returned when a session is not found.
var ErrNotFound = ports.ErrSessionNotFound
