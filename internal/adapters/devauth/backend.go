package devauth

// Package devauth provides an in-memory, GoTrue-compatible identity backend
// for local development and tests. Passwords are bcrypt hashed, access tokens
// are HS256 JWTs and refresh tokens rotate on every use.

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

// backendMinPasswordLength mirrors the identity service's own floor, which is
// laxer than the application's password policy.
const backendMinPasswordLength = 6

// SeedUser is an account created when the backend starts.
type SeedUser struct {
	Email    string
	Password string
	FullName string
	// Unconfirmed leaves the email unconfirmed.
	Unconfirmed bool
}

// Config controls the dev backend behavior.
type Config struct {
	// JWTSecret signs access tokens. A random secret is generated when empty.
	JWTSecret []byte
	// AccessTokenTTL defaults to one hour.
	AccessTokenTTL time.Duration
	// AutoConfirm confirms new accounts immediately and returns a session from SignUp.
	AutoConfirm bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Seed       []SeedUser
	Logger     *slog.Logger
	Clock      func() time.Time
}

type account struct {
	user domainauth.User
	hash []byte
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Backend implements ports.IdentityBackend in memory.
type Backend struct {
	secret      []byte
	accessTTL   time.Duration
	autoConfirm bool
	cost        int
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*account
	refresh  map[string]string // refresh token -> user id
	outbound []Mail
}

// Mail is a message the backend would have delivered.
type Mail struct {
	To   string
	Kind string
	Link string
}

// NewBackend constructs a dev backend and creates the seed accounts.
func NewBackend(cfg Config) (*Backend, error) {
	secret := cfg.JWTSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("dev auth: generate jwt secret: %w", err)
		}
	}
	b := &Backend{
		secret:      secret,
		accessTTL:   cfg.AccessTokenTTL,
		autoConfirm: cfg.AutoConfirm,
		cost:        cfg.BcryptCost,
		logger:      cfg.Logger,
		now:         cfg.Clock,
		byEmail:     make(map[string]*account),
		byID:        make(map[string]*account),
		refresh:     make(map[string]string),
	}
	if b.accessTTL <= 0 {
		b.accessTTL = time.Hour
	}
	if b.cost == 0 {
		b.cost = bcrypt.DefaultCost
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "devauth")
	if b.now == nil {
		b.now = time.Now
	}

	for _, s := range cfg.Seed {
		if _, err := b.createAccount(s.Email, s.Password, map[string]string{"full_name": s.FullName}, !s.Unconfirmed); err != nil {
			return nil, fmt.Errorf("dev auth: seed %s: %w", s.Email, err)
		}
	}
	return b, nil
}

var _ ports.IdentityBackend = (*Backend)(nil)

func (b *Backend) SignInWithPassword(_ context.Context, creds domainauth.Credentials) (domainauth.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.byEmail[normalizeEmail(creds.Email)]
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(creds.Password)) != nil {
		return domainauth.Session{}, &ports.BackendError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_credentials",
			Message: "Invalid login credentials",
		}
	}
	if !acct.user.EmailConfirmed() {
		return domainauth.Session{}, &ports.BackendError{
			Status:  http.StatusBadRequest,
			Code:    "email_not_confirmed",
			Message: "Email not confirmed",
		}
	}
	return b.issueLocked(acct.user)
}

func (b *Backend) SignUp(_ context.Context, req ports.SignUpRequest) (domainauth.User, *domainauth.Session, error) {
	if len(req.Password) < backendMinPasswordLength {
		return domainauth.User{}, nil, &ports.BackendError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "weak_password",
			Message: fmt.Sprintf("Password should be at least %d characters.", backendMinPasswordLength),
		}
	}

	user, err := b.createAccount(req.Email, req.Password, req.Metadata, b.autoConfirm)
	if err != nil {
		return domainauth.User{}, nil, err
	}

	if !b.autoConfirm {
		b.deliver(Mail{To: user.Email, Kind: "confirmation", Link: withQuery(req.RedirectTo, "type", "signup")})
		return user, nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sess, err := b.issueLocked(user)
	if err != nil {
		return domainauth.User{}, nil, err
	}
	return user, &sess, nil
}

func (b *Backend) SignOut(_ context.Context, accessToken string) error {
	claims, err := b.parse(accessToken)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for tok, uid := range b.refresh {
		if uid == claims.Subject {
			delete(b.refresh, tok)
		}
	}
	return nil
}

func (b *Backend) RefreshSession(_ context.Context, refreshToken string) (domainauth.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uid, ok := b.refresh[refreshToken]
	if !ok {
		return domainauth.Session{}, &ports.BackendError{
			Status:  http.StatusBadRequest,
			Code:    "refresh_token_not_found",
			Message: "Invalid Refresh Token: Refresh Token Not Found",
		}
	}
	delete(b.refresh, refreshToken)

	acct, ok := b.byID[uid]
	if !ok {
		return domainauth.Session{}, &ports.BackendError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	return b.issueLocked(acct.user)
}

func (b *Backend) GetUser(_ context.Context, accessToken string) (domainauth.User, error) {
	claims, err := b.parse(accessToken)
	if err != nil {
		return domainauth.User{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.byID[claims.Subject]
	if !ok {
		return domainauth.User{}, &ports.BackendError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	return acct.user, nil
}

func (b *Backend) UpdateUser(
	_ context.Context,
	accessToken string,
	attrs ports.UserAttributes,
) (domainauth.User, error) {
	claims, err := b.parse(accessToken)
	if err != nil {
		return domainauth.User{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.byID[claims.Subject]
	if !ok {
		return domainauth.User{}, &ports.BackendError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}

	if attrs.Password != "" {
		if len(attrs.Password) < backendMinPasswordLength {
			return domainauth.User{}, &ports.BackendError{
				Status:  http.StatusUnprocessableEntity,
				Code:    "weak_password",
				Message: fmt.Sprintf("Password should be at least %d characters.", backendMinPasswordLength),
			}
		}
		if bcrypt.CompareHashAndPassword(acct.hash, []byte(attrs.Password)) == nil {
			return domainauth.User{}, &ports.BackendError{
				Status:  http.StatusUnprocessableEntity,
				Code:    "same_password",
				Message: "New password should be different from the old password.",
			}
		}
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(attrs.Password), b.cost)
		if hashErr != nil {
			return domainauth.User{}, fmt.Errorf("hash password: %w", hashErr)
		}
		acct.hash = hash
	}
	return acct.user, nil
}

// ResetPasswordForEmail records a recovery link carrying a fresh token pair.
// Unknown addresses succeed silently.
func (b *Backend) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	b.mu.Lock()
	acct, ok := b.byEmail[normalizeEmail(email)]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	sess, err := b.issueLocked(acct.user)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	fragment := url.Values{}
	fragment.Set("access_token", sess.Tokens.AccessToken)
	fragment.Set("refresh_token", sess.Tokens.RefreshToken)
	fragment.Set("type", "recovery")
	b.deliver(Mail{To: acct.user.Email, Kind: "recovery", Link: redirectTo + "#" + fragment.Encode()})
	return nil
}

// ConfirmEmail marks the account's email as confirmed.
func (b *Backend) ConfirmEmail(email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.byEmail[normalizeEmail(email)]
	if !ok {
		return fmt.Errorf("dev auth: unknown email %q", email)
	}
	now := b.now().UTC()
	acct.user.EmailConfirmedAt = &now
	return nil
}

// LookupUser returns the account registered for email.
func (b *Backend) LookupUser(email string) (domainauth.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.byEmail[normalizeEmail(email)]
	if !ok {
		return domainauth.User{}, false
	}
	return acct.user, true
}

// Outbox returns the messages delivered so far.
func (b *Backend) Outbox() []Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Mail(nil), b.outbound...)
}

func (b *Backend) createAccount(email, password string, metadata map[string]string, confirmed bool) (domainauth.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return domainauth.User{}, &ports.BackendError{
			Status:  http.StatusBadRequest,
			Code:    "validation_failed",
			Message: "Unable to validate email address: invalid format",
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return domainauth.User{}, fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byEmail[email]; exists {
		return domainauth.User{}, &ports.BackendError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "user_already_exists",
			Message: "User already registered",
		}
	}

	now := b.now().UTC()
	user := domainauth.User{
		ID:        uuid.NewString(),
		Email:     email,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
	}
	if confirmed {
		user.EmailConfirmedAt = &now
	}
	acct := &account{user: user, hash: hash}
	b.byEmail[email] = acct
	b.byID[user.ID] = acct
	return user, nil
}

func (b *Backend) issueLocked(user domainauth.User) (domainauth.Session, error) {
	now := b.now()
	exp := now.Add(b.accessTTL)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "devauth",
			ID:        uuid.NewString(),
		},
		Email: user.Email,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.NewString()
	b.refresh[refresh] = user.ID
	return domainauth.Session{
		Tokens:    domainauth.TokenPair{AccessToken: access, RefreshToken: refresh},
		TokenType: "bearer",
		ExpiresAt: exp.UTC().Truncate(time.Second),
		User:      user,
	}, nil
}

func (b *Backend) parse(accessToken string) (*accessClaims, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil {
		code := "bad_jwt"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "token_expired"
		}
		return nil, &ports.BackendError{Status: http.StatusUnauthorized, Code: code, Message: "invalid JWT: " + err.Error()}
	}
	return &claims, nil
}

func (b *Backend) deliver(m Mail) {
	b.mu.Lock()
	b.outbound = append(b.outbound, m)
	b.mu.Unlock()
	b.logger.Info("dev auth mail", "to", m.To, "kind", m.Kind, "link", m.Link)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func withQuery(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
