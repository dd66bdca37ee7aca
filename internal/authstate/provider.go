package authstate

import (
	"context"
	"log/slog"
	"sync"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/service"
)

// AuthService is the part of service.AuthService the provider drives.
type AuthService interface {
	LoginUser(ctx context.Context, client ports.SessionClient, creds domainauth.Credentials, device domainauth.DeviceInfo) (*service.LoginResult, error)
	RegisterUser(ctx context.Context, client ports.SessionClient, in domainauth.SignUpInput) (*service.RegisterResult, error)
	LogoutUser(ctx context.Context, client ports.SessionClient, userID string)
	AdoptSession(ctx context.Context, client ports.SessionClient, tokens domainauth.TokenPair) (*service.LoginResult, error)
	InitiatePasswordReset(ctx context.Context, client ports.SessionClient, email string) error
	ChangePassword(ctx context.Context, client ports.SessionClient, userID, password, confirm string) error
	UpdateProfile(ctx context.Context, userID string, upd domainauth.ProfileUpdate) (*domainauth.Profile, error)
	GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error)
	ReloadProfile(ctx context.Context, userID string) (*domainauth.Profile, error)
}

var _ AuthService = (*service.AuthService)(nil)

// ErrNotSignedIn is returned by operations that need a current user.
var ErrNotSignedIn = apperrors.New(apperrors.ErrCodeUnknown, "No user is signed in")

// Options configures a Provider.
type Options struct {
	Service AuthService
	Client  ports.SessionClient
	Logger  *slog.Logger
}

// Provider owns the auth state of one mount. Every identity-changing update
// takes a sequence number when it is issued and is applied only if no later
// update has been applied, so the most recently issued update wins no matter
// the order in which work completes. Profile loads carry the sequence of the
// identity they belong to.
type Provider struct {
	svc    AuthService
	client ports.SessionClient
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	started bool
	closed  bool
	issued  uint64
	applied uint64
	pending int
	user    *domainauth.User
	profile *domainauth.Profile
	unsub   func()

	loads sync.WaitGroup
	idle  *sync.Cond
}

// New constructs a Provider in its initial loading state.
func New(opts Options) *Provider {
	if opts.Service == nil {
		panic("AuthService is required")
	}
	if opts.Client == nil {
		panic("SessionClient is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		svc:    opts.Service,
		client: opts.Client,
		logger: logger.With("component", "auth_provider"),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Client returns the session client the provider is bound to.
func (p *Provider) Client() ports.SessionClient { return p.client }

// Snapshot returns a copy of the current state.
func (p *Provider) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := State{Loading: !p.started || p.pending > 0}
	if p.user != nil {
		u := *p.user
		s.User = &u
	}
	if p.profile != nil {
		pr := *p.profile
		s.Profile = &pr
	}
	return s
}

// Start subscribes to session changes and resolves the current session. The
// profile is loaded in the background; use Wait to block until it settles.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.ctx = context.WithoutCancel(ctx)
	p.pending++
	p.mu.Unlock()

	unsub := p.client.OnAuthStateChange(p.onAuthStateChange)
	seq := p.issue()

	sess, err := p.client.GetSession(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to resolve session", "error", err)
	}

	p.mu.Lock()
	p.unsub = unsub
	p.started = true
	if sess == nil {
		p.applyLocked(seq, nil, nil)
		p.doneLocked()
		p.mu.Unlock()
		return
	}
	user := sess.User
	if !p.applyLocked(seq, &user, p.profileFor(user.ID)) {
		// A notification raised while resolving the session already took over.
		p.doneLocked()
		p.mu.Unlock()
		return
	}
	p.loads.Add(1)
	p.mu.Unlock()

	go p.loadProfile(seq, user.ID)
}

// Wait blocks until no operation or profile load is in flight.
func (p *Provider) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.idle.Broadcast()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.idle.Wait()
	}
	return nil
}

// Close unsubscribes and waits for background loads to finish.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	unsub := p.unsub
	p.unsub = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	p.loads.Wait()
}

// SignIn authenticates and applies the resulting user and profile. Failures
// that happen after the credential check leave the provider signed out.
func (p *Provider) SignIn(ctx context.Context, creds domainauth.Credentials, device domainauth.DeviceInfo) error {
	defer p.begin()()

	res, err := p.svc.LoginUser(ctx, p.client, creds, device)
	if err != nil {
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeAccountDeactivated, apperrors.ErrCodeEmailNotConfirmed, apperrors.ErrCodeProfileLoadFailure:
			p.commit(nil, nil)
		}
		return err
	}
	user := res.User
	p.commit(&user, res.Profile)
	return nil
}

// SignUp registers an account. The provider only becomes signed in when the
// backend confirmed the account immediately.
func (p *Provider) SignUp(ctx context.Context, in domainauth.SignUpInput) (*service.RegisterResult, error) {
	defer p.begin()()

	res, err := p.svc.RegisterUser(ctx, p.client, in)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		user := res.User
		p.commit(&user, res.Profile)
	}
	return res, nil
}

// SignOut always ends with the provider signed out.
func (p *Provider) SignOut(ctx context.Context) error {
	defer p.begin()()

	var userID string
	if s := p.Snapshot(); s.User != nil {
		userID = s.User.ID
	}
	p.svc.LogoutUser(ctx, p.client, userID)
	p.commit(nil, nil)
	return nil
}

// AdoptSession signs in with a token pair from a confirmation or recovery
// link. Whatever was signed in before is replaced.
func (p *Provider) AdoptSession(ctx context.Context, tokens domainauth.TokenPair) error {
	defer p.begin()()

	res, err := p.svc.AdoptSession(ctx, p.client, tokens)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeProfileLoadFailure) {
			p.commit(nil, nil)
		}
		return err
	}
	user := res.User
	p.commit(&user, res.Profile)
	return nil
}

// ResetPassword requests a recovery email. State is not touched.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	defer p.begin()()
	return p.svc.InitiatePasswordReset(ctx, p.client, email)
}

// UpdateProfile edits the current user's profile and applies the stored row.
func (p *Provider) UpdateProfile(ctx context.Context, upd domainauth.ProfileUpdate) error {
	defer p.begin()()

	s := p.Snapshot()
	if s.User == nil {
		return ErrNotSignedIn
	}
	profile, err := p.svc.UpdateProfile(ctx, s.User.ID, upd)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil || p.user.ID != s.User.ID {
		return nil
	}
	p.applyLocked(p.nextLocked(), p.user, profile)
	return nil
}

// ChangePassword sets a new password for the current session's user.
func (p *Provider) ChangePassword(ctx context.Context, password, confirm string) error {
	defer p.begin()()

	var userID string
	if s := p.Snapshot(); s.User != nil {
		userID = s.User.ID
	}
	return p.svc.ChangePassword(ctx, p.client, userID, password, confirm)
}

// RefreshProfile reloads the current user's profile, bypassing caches. The
// session is left alone.
func (p *Provider) RefreshProfile(ctx context.Context) error {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return nil
	}
	seq, userID := p.applied, p.user.ID
	p.mu.Unlock()

	profile, err := p.svc.ReloadProfile(ctx, userID)
	if err != nil {
		return err
	}
	p.applyProfile(seq, profile)
	return nil
}

func (p *Provider) onAuthStateChange(event domainauth.ChangeEvent, sess *domainauth.Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	seq := p.nextLocked()
	if sess == nil {
		p.applyLocked(seq, nil, nil)
		p.mu.Unlock()
		p.logger.Debug("auth state cleared", "event", event)
		return
	}
	user := sess.User
	p.applyLocked(seq, &user, p.profileFor(user.ID))
	p.pending++
	p.loads.Add(1)
	p.mu.Unlock()

	p.logger.Debug("auth state changed", "event", event, "user_id", user.ID)
	go p.loadProfile(seq, user.ID)
}

// loadProfile fetches the profile for the identity applied at seq. It owns one
// pending count and one loads slot.
func (p *Provider) loadProfile(seq uint64, userID string) {
	defer p.loads.Done()
	defer p.finish()

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	profile, err := p.svc.GetProfile(ctx, userID)
	if err != nil {
		p.logger.WarnContext(ctx, "profile load failed", "user_id", userID, "error", err)
		return
	}
	p.applyProfile(seq, profile)
}

func (p *Provider) applyProfile(seq uint64, profile *domainauth.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.applied || p.user == nil || p.user.ID != profile.ID {
		return
	}
	p.profile = profile
}

// commit issues and applies an update in one step.
func (p *Provider) commit(user *domainauth.User, profile *domainauth.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(p.nextLocked(), user, profile)
}

func (p *Provider) issue() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextLocked()
}

func (p *Provider) nextLocked() uint64 {
	p.issued++
	return p.issued
}

// applyLocked applies the update issued at seq unless a later one has been
// applied already.
func (p *Provider) applyLocked(seq uint64, user *domainauth.User, profile *domainauth.Profile) bool {
	if seq <= p.applied {
		return false
	}
	p.applied = seq
	p.user = user
	p.profile = profile
	return true
}

// profileFor keeps the current profile while the identity does not change.
func (p *Provider) profileFor(userID string) *domainauth.Profile {
	if p.profile != nil && p.profile.ID == userID {
		return p.profile
	}
	return nil
}

func (p *Provider) begin() func() {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
	return p.finish
}

func (p *Provider) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doneLocked()
}

func (p *Provider) doneLocked() {
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
}
