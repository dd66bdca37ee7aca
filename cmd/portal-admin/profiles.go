package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/northwind-consulting/portal/internal/bootstrap"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

const (
	defaultCommandTimeout   = 30 * time.Second
	defaultMigrationTimeout = 5 * time.Minute
)

// profileAdmin is the part of the auth service the CLI drives.
type profileAdmin interface {
	ListProfiles(ctx context.Context, opts ports.ProfileListOptions) ([]*domainauth.Profile, error)
	ReloadProfile(ctx context.Context, userID string) (*domainauth.Profile, error)
	AdminUpdateProfile(ctx context.Context, userID string, upd domainauth.AdminProfileUpdate) (*domainauth.Profile, error)
	HasPermission(ctx context.Context, userID string, permission domainauth.Permission) (bool, error)
}

func withProfileAdmin(cmdCtx *commandContext, timeout time.Duration, fn func(ctx context.Context, svc profileAdmin) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, timeout)
	defer cancel()

	svc, closeFn, err := cmdCtx.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer closeFn()
	return fn(ctx, svc)
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "Maximum time to wait for migrations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")
	if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
		return err
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

type listOptions struct {
	Role   string
	Active string
	Limit  int
	Offset int
}

func parseListFlags(args []string) (ports.ProfileListOptions, error) {
	var raw listOptions
	fs := flag.NewFlagSet("list-profiles", flag.ContinueOnError)
	fs.StringVar(&raw.Role, "role", "", "Only profiles with this role")
	fs.StringVar(&raw.Active, "active", "", "Only active (true) or deactivated (false) profiles")
	fs.IntVar(&raw.Limit, "limit", 50, "Maximum rows to print")
	fs.IntVar(&raw.Offset, "offset", 0, "Rows to skip")
	if err := fs.Parse(args); err != nil {
		return ports.ProfileListOptions{}, err
	}

	if raw.Limit < 1 || raw.Offset < 0 {
		return ports.ProfileListOptions{}, errors.New("-limit must be positive and -offset non-negative")
	}
	opts := ports.ProfileListOptions{Limit: raw.Limit, Offset: raw.Offset}
	if raw.Role != "" {
		role, err := domainauth.ParseRole(raw.Role)
		if err != nil {
			return opts, err
		}
		opts.Role = &role
	}
	if raw.Active != "" {
		active, err := strconv.ParseBool(raw.Active)
		if err != nil {
			return opts, fmt.Errorf("-active: %w", err)
		}
		opts.Active = &active
	}
	return opts, nil
}

func runListProfiles(cmdCtx *commandContext, args []string) error {
	opts, err := parseListFlags(args)
	if err != nil {
		return err
	}
	return withProfileAdmin(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc profileAdmin) error {
		profiles, err := svc.ListProfiles(ctx, opts)
		if err != nil {
			return err
		}
		return printProfiles(cmdCtx.Out, profiles)
	})
}

func printProfiles(out io.Writer, profiles []*domainauth.Profile) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "ID\tEMAIL\tROLE\tACTIVE\tVERIFIED\tLAST LOGIN\n"); err != nil {
		return err
	}
	for _, p := range profiles {
		lastLogin := "never"
		if p.LastLoginAt != nil {
			lastLogin = p.LastLoginAt.UTC().Format(time.RFC3339)
		}
		if err := writef(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			p.ID, p.Email, p.Role, p.IsActive, p.EmailVerified, lastLogin); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return writef(out, "\n%d profile(s)\n", len(profiles))
}

func requireID(fs *flag.FlagSet, id string) error {
	if id == "" {
		return fmt.Errorf("%s: -id is required", fs.Name())
	}
	return nil
}

func runShowProfile(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("show-profile", flag.ContinueOnError)
	id := fs.String("id", "", "Profile (user) ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	return withProfileAdmin(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc profileAdmin) error {
		p, err := svc.ReloadProfile(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(cmdCtx.Out, p)
	})
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	id := fs.String("id", "", "Profile (user) ID")
	roleName := fs.String("role", "", "New role: admin, hr_manager, user or viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	role, err := domainauth.ParseRole(*roleName)
	if err != nil {
		return err
	}
	return applyAccessUpdate(cmdCtx, *id, domainauth.AdminProfileUpdate{Role: &role})
}

func runSetActive(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	id := fs.String("id", "", "Profile (user) ID")
	active := fs.Bool("active", true, "Whether the account may sign in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	return applyAccessUpdate(cmdCtx, *id, domainauth.AdminProfileUpdate{IsActive: active})
}

func runVerifyEmail(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("verify-email", flag.ContinueOnError)
	id := fs.String("id", "", "Profile (user) ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	verified := true
	return applyAccessUpdate(cmdCtx, *id, domainauth.AdminProfileUpdate{EmailVerified: &verified})
}

func applyAccessUpdate(cmdCtx *commandContext, id string, upd domainauth.AdminProfileUpdate) error {
	return withProfileAdmin(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc profileAdmin) error {
		p, err := svc.AdminUpdateProfile(ctx, id, upd)
		if err != nil {
			return err
		}
		cmdCtx.Logger.InfoContext(ctx, "profile updated",
			"id", p.ID,
			"role", p.Role,
			"is_active", p.IsActive,
			"email_verified", p.EmailVerified,
		)
		return writef(cmdCtx.Out, "%s: role=%s active=%t verified=%t\n", p.Email, p.Role, p.IsActive, p.EmailVerified)
	})
}

func runCheckPermission(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("check-permission", flag.ContinueOnError)
	id := fs.String("id", "", "Profile (user) ID; reads the current role from the database")
	roleName := fs.String("role", "", "Check a role without connecting")
	perm := fs.String("permission", "", "Permission, e.g. jobs:manage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *perm == "" {
		return errors.New("check-permission: -permission is required")
	}
	permission := domainauth.Permission(*perm)

	if *roleName != "" {
		role, err := domainauth.ParseRole(*roleName)
		if err != nil {
			return err
		}
		return printDecision(cmdCtx.Out, string(role), permission, domainauth.HasPermission(role, permission))
	}
	if err := requireID(fs, *id); err != nil {
		return errors.New("check-permission: -id or -role is required")
	}
	return withProfileAdmin(cmdCtx, defaultCommandTimeout, func(ctx context.Context, svc profileAdmin) error {
		ok, err := svc.HasPermission(ctx, *id, permission)
		if err != nil {
			return err
		}
		return printDecision(cmdCtx.Out, *id, permission, ok)
	})
}

func printDecision(out io.Writer, subject string, permission domainauth.Permission, granted bool) error {
	verdict := "denied"
	if granted {
		verdict = "granted"
	}
	return writef(out, "%s %s: %s\n", subject, permission, verdict)
}
