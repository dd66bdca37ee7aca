package devseed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northwind-consulting/portal/internal/adapters/devauth"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/ports"
)

// Account describes a development login and the profile that goes with it.
type Account struct {
	Email    string
	FullName string
	Role     domainauth.Role
	// Inactive seeds a deactivated profile.
	Inactive bool
	// Unconfirmed leaves the identity and the profile unverified.
	Unconfirmed bool
}

// DefaultAccounts returns one account per role plus a deactivated and an
// unconfirmed user, all under domain.
func DefaultAccounts(domain string) []Account {
	domain = strings.TrimPrefix(strings.TrimSpace(domain), "@")
	if domain == "" {
		domain = "northwind.test"
	}
	at := func(local string) string { return local + "@" + domain }
	return []Account{
		{Email: at("admin"), FullName: "Ada Admin", Role: domainauth.RoleAdmin},
		{Email: at("hr"), FullName: "Hank Hr", Role: domainauth.RoleHRManager},
		{Email: at("user"), FullName: "Uma User", Role: domainauth.RoleUser},
		{Email: at("viewer"), FullName: "Vic Viewer", Role: domainauth.RoleViewer},
		{Email: at("inactive"), FullName: "Ian Inactive", Role: domainauth.RoleUser, Inactive: true},
		{Email: at("pending"), FullName: "Pat Pending", Role: domainauth.RoleUser, Unconfirmed: true},
	}
}

// BackendSeeds converts accounts into dev backend users sharing password.
func BackendSeeds(accounts []Account, password string) []devauth.SeedUser {
	seeds := make([]devauth.SeedUser, 0, len(accounts))
	for _, a := range accounts {
		seeds = append(seeds, devauth.SeedUser{
			Email:       a.Email,
			Password:    password,
			FullName:    a.FullName,
			Unconfirmed: a.Unconfirmed,
		})
	}
	return seeds
}

// UserLookup resolves a seeded identity by email.
type UserLookup interface {
	LookupUser(email string) (domainauth.User, bool)
}

// Options configures Run.
type Options struct {
	Users    UserLookup
	Profiles ports.ProfileRepository
	Accounts []Account
	Logger   *slog.Logger
}

// Run makes sure every account has a profile row. Existing rows are left
// alone so role changes made while developing survive a restart.
func Run(ctx context.Context, opts Options) error {
	if opts.Users == nil || opts.Profiles == nil {
		return errors.New("devseed: users and profiles are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	created := 0
	for _, account := range opts.Accounts {
		ok, err := seedProfile(ctx, opts, account)
		if err != nil {
			logger.WarnContext(ctx, "failed to seed profile", "email", account.Email, "error", err)
			errs = append(errs, fmt.Errorf("seed %s: %w", account.Email, err))
			continue
		}
		if ok {
			created++
			logger.InfoContext(ctx, "seeded dev profile", "email", account.Email, "role", account.Role)
		}
	}

	logger.InfoContext(ctx, "dev seeding complete", "created", created, "failed", len(errs))
	return errors.Join(errs...)
}

func seedProfile(ctx context.Context, opts Options, account Account) (bool, error) {
	user, found := opts.Users.LookupUser(account.Email)
	if !found {
		return false, apperrors.NotFoundf("no identity for %s", account.Email)
	}

	_, err := opts.Profiles.GetByID(ctx, user.ID)
	switch {
	case err == nil:
		return false, nil
	case !apperrors.IsNotFound(err):
		return false, err
	}

	role := account.Role
	if !role.Valid() {
		role = domainauth.RoleUser
	}
	_, err = opts.Profiles.Create(ctx, domainauth.NewProfile{
		ID:            user.ID,
		Email:         user.Email,
		Role:          role,
		IsActive:      !account.Inactive,
		EmailVerified: !account.Unconfirmed,
		FullName:      account.FullName,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
