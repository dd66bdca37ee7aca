package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/northwind-consulting/portal/config"
	"github.com/northwind-consulting/portal/internal/adapters/devauth"
	"github.com/northwind-consulting/portal/internal/adapters/gotrue"
	"github.com/northwind-consulting/portal/internal/devseed"
	"github.com/northwind-consulting/portal/internal/ports"
)

// Identity is the identity backend selected by AUTH_MODE.
type Identity struct {
	Backend ports.IdentityBackend
	// Dev is set in mock mode so seeding can resolve the seeded users.
	Dev *devauth.Backend
	// Accounts are the seeded dev logins (mock mode only).
	Accounts []devseed.Account
}

// BuildIdentity creates the identity backend for the configured auth mode.
func BuildIdentity(cfg config.AuthConfig, logger *slog.Logger) (Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case config.AuthModeMock:
		return buildDevIdentity(cfg.DevAuth, logger)
	case config.AuthModeGoTrue, "":
		client, err := gotrue.NewClient(gotrue.Config{
			BaseURL: cfg.GoTrue.URL,
			APIKey:  cfg.GoTrue.AnonKey,
			JWKSURL: cfg.GoTrue.JWKSURL,
			Issuer:  cfg.GoTrue.Issuer,
			Timeout: cfg.GoTrue.Timeout,
		})
		if err != nil {
			return Identity{}, fmt.Errorf("gotrue client: %w", err)
		}
		logger.Info("using gotrue identity backend",
			"url", cfg.GoTrue.URL,
			"local_verification", cfg.GoTrue.JWKSURL != "",
		)
		return Identity{Backend: client}, nil
	default:
		return Identity{}, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

func buildDevIdentity(cfg config.DevAuthConfig, logger *slog.Logger) (Identity, error) {
	if cfg.SeedPassword == "" {
		return Identity{}, errors.New("DEV_AUTH_SEED_PASSWORD is required in mock mode")
	}
	accounts := devseed.DefaultAccounts(cfg.SeedDomain)
	backend, err := devauth.NewBackend(devauth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		AutoConfirm: cfg.AutoConfirm,
		Seed:        devseed.BackendSeeds(accounts, cfg.SeedPassword),
		Logger:      logger,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("dev auth backend: %w", err)
	}

	emails := make([]string, 0, len(accounts))
	for _, a := range accounts {
		emails = append(emails, a.Email)
	}
	logger.Warn("using in-memory dev identity backend; do not use in production",
		"seed_accounts", emails,
		"auto_confirm", cfg.AutoConfirm,
	)
	return Identity{Backend: backend, Dev: backend, Accounts: accounts}, nil
}
