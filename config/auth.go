package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AuthMode represents the identity backend the application talks to.
type AuthMode string

const (
	// AuthModeGoTrue uses a GoTrue-compatible identity service.
	AuthModeGoTrue AuthMode = "gotrue"
	// AuthModeMock uses the in-memory dev backend (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "gotrue", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: gotrue, mock)", v)
	}
}

// GoTrueConfig points at the hosted identity service.
type GoTrueConfig struct {
	// URL is the auth API root, e.g. https://xyz.supabase.co/auth/v1.
	URL string `env:"URL"`
	// AnonKey is the public API key sent with every request.
	AnonKey string `env:"ANON_KEY"`
	// JWKSURL enables local verification of access tokens.
	JWKSURL string `env:"JWKS_URL"`
	// Issuer is checked against the token "iss" claim when set.
	Issuer  string        `env:"ISSUER"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// DevAuthConfig controls the in-memory dev backend.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	// SeedPassword is shared by the seeded accounts, one per role.
	SeedPassword string `env:"SEED_PASSWORD" envDefault:"Portal!dev1"`
	// SeedDomain is the email domain of the seeded accounts.
	SeedDomain string `env:"SEED_DOMAIN" envDefault:"northwind.test"`
	// AutoConfirm skips email confirmation for new sign-ups.
	AutoConfirm bool   `env:"AUTO_CONFIRM" envDefault:"false"`
	JWTSecret   string `env:"JWT_SECRET"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"gotrue"`

	// GoTrue configuration (used when Mode=gotrue).
	GoTrue GoTrueConfig `envPrefix:"GOTRUE_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// EmailRedirectURL is where confirmation links land. Defaults to
	// <APP_BASE_URL>/auth/verify-email.
	EmailRedirectURL string `env:"AUTH_EMAIL_REDIRECT_URL"`

	// ResetRedirectURL is where recovery links land. Defaults to
	// <APP_BASE_URL>/auth/reset-password.
	ResetRedirectURL string `env:"AUTH_RESET_REDIRECT_URL"`

	// LoginAttempts per email or client IP within LoginWindow.
	LoginAttempts int           `env:"AUTH_LOGIN_ATTEMPTS" envDefault:"10"`
	LoginWindow   time.Duration `env:"AUTH_LOGIN_WINDOW"   envDefault:"15m"`
}

// Sanitize fills derived redirect URLs and clamps the throttle settings.
func (a *AuthConfig) Sanitize(baseURL string) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	a.GoTrue.URL = strings.TrimRight(strings.TrimSpace(a.GoTrue.URL), "/")
	if a.EmailRedirectURL == "" && base != "" {
		a.EmailRedirectURL = base + "/auth/verify-email"
	}
	if a.ResetRedirectURL == "" && base != "" {
		a.ResetRedirectURL = base + "/auth/reset-password"
	}
	if a.LoginAttempts < 1 {
		a.LoginAttempts = 1
	}
	if a.LoginWindow < time.Minute {
		a.LoginWindow = time.Minute
	}
	if a.GoTrue.Timeout <= 0 {
		a.GoTrue.Timeout = 10 * time.Second
	}
}

// Validate checks that the selected backend is configured.
func (a *AuthConfig) Validate() error {
	if a.Mode != AuthModeGoTrue {
		return nil
	}
	if a.GoTrue.URL == "" {
		return errors.New("GOTRUE_URL is required when AUTH_MODE=gotrue")
	}
	if _, err := url.ParseRequestURI(a.GoTrue.URL); err != nil {
		return fmt.Errorf("GOTRUE_URL: %w", err)
	}
	if a.GoTrue.AnonKey == "" {
		return errors.New("GOTRUE_ANON_KEY is required when AUTH_MODE=gotrue")
	}
	return nil
}
