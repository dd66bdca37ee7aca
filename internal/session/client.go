// Package session implements the stateful session-store client used by the
// auth service and the auth state provider. A Client is bound to one browser
// session id; the token bundle lives in a SessionVault and state changes are
// announced to local listeners and to an AuthEventBus.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

// DefaultRefreshSkew refreshes access tokens this long before they expire.
const DefaultRefreshSkew = 30 * time.Second

// busReadTimeout bounds the vault read made for a remote auth event.
const busReadTimeout = 5 * time.Second

// FactoryOptions configures NewFactory.
type FactoryOptions struct {
	Backend     ports.IdentityBackend
	Vault       ports.SessionVault
	Bus         ports.AuthEventBus // optional
	Logger      *slog.Logger
	Clock       func() time.Time
	RefreshSkew time.Duration
}

// Factory builds Clients that share a backend, vault and bus.
type Factory struct {
	opts FactoryOptions
}

// NewFactory creates a Factory, filling in defaults.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RefreshSkew <= 0 {
		opts.RefreshSkew = DefaultRefreshSkew
	}
	return &Factory{opts: opts}
}

// ForSession returns a client bound to sessionID. An empty id gets a fresh one
// that is only persisted once a session is stored under it.
func (f *Factory) ForSession(sessionID string) *Client {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	return &Client{
		opts:      f.opts,
		origin:    uuid.NewString(),
		sessionID: sessionID,
		listeners: make(map[int]ports.AuthStateListener),
		logger:    f.opts.Logger.With("component", "session_client"),
	}
}

// Client implements ports.SessionClient.
type Client struct {
	opts   FactoryOptions
	origin string
	logger *slog.Logger

	mu          sync.Mutex
	sessionID   string
	nextID      int
	listeners   map[int]ports.AuthStateListener
	busUnsub    func()
	subscribers int
}

var _ ports.SessionClient = (*Client)(nil)

// SessionID returns the id the browser cookie must carry.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetSession returns the stored session, refreshing the access token when it
// is about to expire. A session whose refresh token the backend rejects is
// removed and nil is returned.
func (c *Client) GetSession(ctx context.Context) (*domainauth.Session, error) {
	id := c.SessionID()
	sess, err := c.opts.Vault.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !sess.Expired(c.opts.Clock(), c.opts.RefreshSkew) {
		return &sess, nil
	}

	refreshed, err := c.opts.Backend.RefreshSession(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		if be, ok := ports.AsBackendError(err); ok && be.Status >= 400 && be.Status < 500 {
			c.logger.InfoContext(ctx, "refresh token rejected; clearing session", "status", be.Status, "code", be.Code)
			if delErr := c.opts.Vault.Delete(ctx, id); delErr != nil {
				c.logger.WarnContext(ctx, "failed to delete stale session", "error", delErr)
			}
			c.emit(ctx, domainauth.EventSignedOut, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	if err := c.opts.Vault.Save(ctx, id, refreshed); err != nil {
		return nil, fmt.Errorf("store refreshed session: %w", err)
	}
	c.emit(ctx, domainauth.EventTokenRefreshed, &refreshed)
	return &refreshed, nil
}

// SignInWithPassword authenticates against the backend and stores the session
// under a newly issued session id.
func (c *Client) SignInWithPassword(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	sess, err := c.opts.Backend.SignInWithPassword(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := c.establish(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(ctx, domainauth.EventSignedIn, &sess)
	return &sess, nil
}

// SignUp creates the account. When the backend returns a session (auto
// confirmation) it is stored like a sign-in.
func (c *Client) SignUp(ctx context.Context, req ports.SignUpRequest) (*domainauth.User, *domainauth.Session, error) {
	user, sess, err := c.opts.Backend.SignUp(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if sess != nil {
		if err := c.establish(ctx, *sess); err != nil {
			return nil, nil, err
		}
		c.emit(ctx, domainauth.EventSignedIn, sess)
	}
	return &user, sess, nil
}

// SignOut revokes the backend session when possible and always clears the
// local one. Backend errors are returned after the local state is gone.
func (c *Client) SignOut(ctx context.Context) error {
	id := c.SessionID()
	var backendErr error
	sess, err := c.opts.Vault.Get(ctx, id)
	switch {
	case err == nil:
		backendErr = c.opts.Backend.SignOut(ctx, sess.Tokens.AccessToken)
	case !errors.Is(err, ports.ErrSessionNotFound):
		backendErr = fmt.Errorf("load session: %w", err)
	}

	var vaultErr error
	if delErr := c.opts.Vault.Delete(ctx, id); delErr != nil {
		vaultErr = fmt.Errorf("delete session: %w", delErr)
	}
	c.emit(ctx, domainauth.EventSignedOut, nil)
	return errors.Join(backendErr, vaultErr)
}

// UpdateUser changes account attributes of the signed-in user.
func (c *Client) UpdateUser(ctx context.Context, attrs ports.UserAttributes) (*domainauth.User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &ports.BackendError{
			Status:  http.StatusUnauthorized,
			Code:    "session_missing",
			Message: "Auth session missing",
		}
	}

	user, err := c.opts.Backend.UpdateUser(ctx, sess.Tokens.AccessToken, attrs)
	if err != nil {
		return nil, err
	}
	sess.User = user
	if err := c.opts.Vault.Save(ctx, c.SessionID(), *sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.emit(ctx, domainauth.EventUserUpdated, sess)
	return &user, nil
}

// ResetPasswordForEmail asks the backend to send a recovery link.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.opts.Backend.ResetPasswordForEmail(ctx, email, redirectTo)
}

// SetSession adopts a token pair obtained out of band, such as the one carried
// by a confirmation or recovery link. The access token is checked with the
// backend first; the pair is then exchanged through the refresh grant, which
// yields a bundle with a known expiry. Both tokens must belong to one user.
func (c *Client) SetSession(ctx context.Context, tokens domainauth.TokenPair) (*domainauth.Session, error) {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, &ports.BackendError{
			Status:  http.StatusBadRequest,
			Code:    "validation_failed",
			Message: "access and refresh tokens are required",
		}
	}

	user, err := c.opts.Backend.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	sess, err := c.opts.Backend.RefreshSession(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	if sess.User.ID != user.ID {
		return nil, &ports.BackendError{
			Status:  http.StatusUnauthorized,
			Code:    "bad_jwt",
			Message: "access and refresh tokens belong to different users",
		}
	}
	if err := c.establish(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(ctx, domainauth.EventPasswordRecovery, &sess)
	return &sess, nil
}

// OnAuthStateChange registers fn for session changes of this client and of any
// other client holding the same session id.
func (c *Client) OnAuthStateChange(fn ports.AuthStateListener) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.subscribers++
	if c.subscribers == 1 {
		c.subscribeBusLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
			c.subscribers--
			if c.subscribers == 0 && c.busUnsub != nil {
				c.busUnsub()
				c.busUnsub = nil
			}
		})
	}
}

// establish rotates the session id and stores sess under it.
func (c *Client) establish(ctx context.Context, sess domainauth.Session) error {
	oldID := c.SessionID()
	newID := newSessionID()
	if err := c.opts.Vault.Save(ctx, newID, sess); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := c.opts.Vault.Delete(ctx, oldID); err != nil {
		c.logger.WarnContext(ctx, "failed to delete previous session", "error", err)
	}

	c.mu.Lock()
	c.sessionID = newID
	if c.busUnsub != nil {
		c.busUnsub()
		c.busUnsub = nil
		c.subscribeBusLocked()
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribeBusLocked() {
	if c.opts.Bus == nil {
		return
	}
	c.busUnsub = c.opts.Bus.Subscribe(c.sessionID, func(evt ports.AuthEvent) {
		if evt.Origin == c.origin {
			return
		}
		c.notify(evt.Event, c.sessionForEvent(evt))
	})
}

// sessionForEvent reloads the session a remote event refers to. Signed-out
// events and sessions no longer in the vault yield nil.
func (c *Client) sessionForEvent(evt ports.AuthEvent) *domainauth.Session {
	if evt.Event == domainauth.EventSignedOut {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), busReadTimeout)
	defer cancel()
	sess, err := c.opts.Vault.Get(ctx, evt.SessionID)
	if err != nil {
		if !errors.Is(err, ports.ErrSessionNotFound) {
			c.logger.WarnContext(ctx, "failed to load session for auth event", "event", evt.Event, "error", err)
		}
		return nil
	}
	return &sess
}

// emit notifies local listeners synchronously, then publishes to the bus.
func (c *Client) emit(ctx context.Context, event domainauth.ChangeEvent, sess *domainauth.Session) {
	c.notify(event, sess)
	if c.opts.Bus == nil {
		return
	}
	evt := ports.AuthEvent{SessionID: c.SessionID(), Origin: c.origin, Event: event}
	if sess != nil {
		user := sess.User
		evt.User = &user
	}
	if err := c.opts.Bus.Publish(ctx, evt); err != nil {
		c.logger.WarnContext(ctx, "failed to publish auth event", "event", event, "error", err)
	}
}

func (c *Client) notify(event domainauth.ChangeEvent, sess *domainauth.Session) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]ports.AuthStateListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}

func newSessionID() string {
	return uuid.NewString()
}
