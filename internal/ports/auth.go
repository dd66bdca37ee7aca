package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
)

// SignUpRequest carries the account creation inputs sent to the identity backend.
type SignUpRequest struct {
	Email      string
	Password   string
	Metadata   map[string]string
	RedirectTo string
}

// UserAttributes are the account fields a signed-in user may change.
type UserAttributes struct {
	Password string
}

// BackendError is the error shape every identity backend adapter returns for
// a rejected request. Code is the backend's machine-readable reason when it
// sends one; Status is the HTTP-equivalent status.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity backend: %d: %s", e.Status, e.Message)
}

// AsBackendError extracts a *BackendError from err.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	ok := errors.As(err, &be)
	return be, ok
}

// IdentityBackend is the stateless remote identity service (GoTrue-compatible).
// It knows nothing about browser sessions; callers hold the tokens.
type IdentityBackend interface {
	SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (domainauth.Session, error)
	// SignUp returns a session only when the backend confirms accounts automatically.
	SignUp(ctx context.Context, req SignUpRequest) (domainauth.User, *domainauth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error)
	GetUser(ctx context.Context, accessToken string) (domainauth.User, error)
	UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (domainauth.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

// ErrSessionNotFound is returned by a SessionVault when no bundle is stored under the id.
var ErrSessionNotFound = errors.New("session not found")

// SessionVault persists token bundles keyed by the browser's session id.
type SessionVault interface {
	Save(ctx context.Context, id string, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// AuthEvent is a session state change fanned out to every holder of the session id.
// It never carries tokens; receivers read the session from the vault.
type AuthEvent struct {
	SessionID string                 `json:"session_id"`
	Origin    string                 `json:"origin"`
	Event     domainauth.ChangeEvent `json:"event"`
	User      *domainauth.User       `json:"user,omitempty"`
}

// AuthEventBus distributes AuthEvents between session clients.
type AuthEventBus interface {
	Publish(ctx context.Context, evt AuthEvent) error
	// Subscribe registers fn for events on sessionID and returns its cancel func.
	Subscribe(sessionID string, fn func(AuthEvent)) (unsubscribe func())
}

// AuthStateListener receives session change notifications. sess is nil when signed out.
type AuthStateListener func(event domainauth.ChangeEvent, sess *domainauth.Session)

// SessionClient is the stateful session-store client bound to one browser session.
type SessionClient interface {
	// SessionID is the opaque id the browser cookie must carry; it changes on sign-in.
	SessionID() string
	GetSession(ctx context.Context) (*domainauth.Session, error)
	SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*domainauth.User, *domainauth.Session, error)
	SignOut(ctx context.Context) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*domainauth.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	SetSession(ctx context.Context, tokens domainauth.TokenPair) (*domainauth.Session, error)
	OnAuthStateChange(fn AuthStateListener) (unsubscribe func())
}

// ProfileListOptions filters profile listings.
type ProfileListOptions struct {
	Role   *domainauth.Role
	Active *bool
	Limit  int
	Offset int
}

// ProfileRepository persists application profiles.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domainauth.Profile, error)
	Create(ctx context.Context, in domainauth.NewProfile) (*domainauth.Profile, error)
	Update(ctx context.Context, id string, upd domainauth.ProfileUpdate) (*domainauth.Profile, error)
	UpdateAccess(ctx context.Context, id string, upd domainauth.AdminProfileUpdate) (*domainauth.Profile, error)
	RecordLogin(ctx context.Context, id string, at time.Time) (*domainauth.Profile, error)
	MarkPasswordChanged(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, opts ProfileListOptions) ([]*domainauth.Profile, error)
}

// ProfileCache is a short-lived read-through cache of profiles.
type ProfileCache interface {
	Get(ctx context.Context, id string) (*domainauth.Profile, bool, error)
	Set(ctx context.Context, p *domainauth.Profile) error
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter counts attempts per key in fixed windows.
type RateLimiter interface {
	// Allow records one attempt and reports whether key is still within limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
