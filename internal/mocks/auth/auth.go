package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.SessionVault    = (*MemorySessionVault)(nil)
	_ ports.ProfileCache    = (*MemoryProfileCache)(nil)
	_ ports.RateLimiter     = (*CountingRateLimiter)(nil)
	_ ports.IdentityBackend = (*StubIdentityBackend)(nil)
)

// MemorySessionVault is an in-memory session vault for unit tests.
type MemorySessionVault struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session

	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

// NewMemorySessionVault creates a new in-memory session vault.
func NewMemorySessionVault() *MemorySessionVault {
	return &MemorySessionVault{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionVault) Save(_ context.Context, id string, sess domainauth.Session) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = sess
	return nil
}

func (m *MemorySessionVault) Get(_ context.Context, id string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemorySessionVault) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len reports the number of stored sessions.
func (m *MemorySessionVault) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MemoryProfileCache is an in-memory profile cache that records invalidations.
type MemoryProfileCache struct {
	mu          sync.Mutex
	profiles    map[string]domainauth.Profile
	Invalidated []string
}

// NewMemoryProfileCache creates an empty cache.
func NewMemoryProfileCache() *MemoryProfileCache {
	return &MemoryProfileCache{profiles: make(map[string]domainauth.Profile)}
}

func (m *MemoryProfileCache) Get(_ context.Context, id string) (*domainauth.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (m *MemoryProfileCache) Set(_ context.Context, p *domainauth.Profile) error {
	if p == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = *p
	return nil
}

func (m *MemoryProfileCache) Invalidate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
	m.Invalidated = append(m.Invalidated, id)
	return nil
}

// CountingRateLimiter allows Limit attempts per key and ignores the window.
type CountingRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func (c *CountingRateLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.Err != nil {
		return false, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[key]++
	return c.counts[key] <= limit, nil
}

// StubIdentityBackend lets tests script backend responses per method.
// Methods without a func return a 501 BackendError.
type StubIdentityBackend struct {
	SignInFunc  func(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error)
	SignUpFunc  func(ctx context.Context, req ports.SignUpRequest) (domainauth.User, *domainauth.Session, error)
	SignOutFunc func(ctx context.Context, accessToken string) error
	RefreshFunc func(ctx context.Context, refreshToken string) (domainauth.Session, error)
	GetUserFunc func(ctx context.Context, accessToken string) (domainauth.User, error)
	UpdateFunc  func(ctx context.Context, accessToken string, attrs ports.UserAttributes) (domainauth.User, error)
	ResetFunc   func(ctx context.Context, email, redirectTo string) error
}

func notImplemented() error {
	return &ports.BackendError{Status: http.StatusNotImplemented, Code: "not_implemented", Message: "stub"}
}

func (s *StubIdentityBackend) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error) {
	if s.SignInFunc != nil {
		return s.SignInFunc(ctx, creds)
	}
	return domainauth.Session{}, notImplemented()
}

func (s *StubIdentityBackend) SignUp(ctx context.Context, req ports.SignUpRequest) (domainauth.User, *domainauth.Session, error) {
	if s.SignUpFunc != nil {
		return s.SignUpFunc(ctx, req)
	}
	return domainauth.User{}, nil, notImplemented()
}

func (s *StubIdentityBackend) SignOut(ctx context.Context, accessToken string) error {
	if s.SignOutFunc != nil {
		return s.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (s *StubIdentityBackend) RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	if s.RefreshFunc != nil {
		return s.RefreshFunc(ctx, refreshToken)
	}
	return domainauth.Session{}, notImplemented()
}

func (s *StubIdentityBackend) GetUser(ctx context.Context, accessToken string) (domainauth.User, error) {
	if s.GetUserFunc != nil {
		return s.GetUserFunc(ctx, accessToken)
	}
	return domainauth.User{}, notImplemented()
}

func (s *StubIdentityBackend) UpdateUser(ctx context.Context, accessToken string, attrs ports.UserAttributes) (domainauth.User, error) {
	if s.UpdateFunc != nil {
		return s.UpdateFunc(ctx, accessToken, attrs)
	}
	return domainauth.User{}, notImplemented()
}

func (s *StubIdentityBackend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if s.ResetFunc != nil {
		return s.ResetFunc(ctx, email, redirectTo)
	}
	return nil
}
