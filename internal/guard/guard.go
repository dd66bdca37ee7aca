// Package guard decides what a visitor may see. The functions are pure: they
// look only at the auth state and the requirements they are given.
package guard

import (
	"net/url"
	"slices"

	"github.com/northwind-consulting/portal/internal/authstate"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
)

// Redirect targets.
const (
	LoginPath              = "/auth/login"
	AccountDeactivatedPath = "/auth/account-deactivated"
	VerifyEmailPath        = "/auth/verify-email"
	UnauthorizedPath       = "/unauthorized"
	DefaultLandingPath     = "/dashboard"
)

// Outcome is the kind of a route decision.
type Outcome string

const (
	OutcomeLoading  Outcome = "loading"
	OutcomeRedirect Outcome = "redirect"
	OutcomeDenied   Outcome = "denied"
	OutcomeRender   Outcome = "render"
)

// Reason explains a redirect or denial. It doubles as the metrics label.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonDeactivated     Reason = "deactivated"
	ReasonUnverified      Reason = "unverified"
	ReasonRole            Reason = "role"
	ReasonPermission      Reason = "permission"
)

// RouteRequirements are the access rules of a protected route.
type RouteRequirements struct {
	RequiredRole       domainauth.Role       // optional
	RequiredPermission domainauth.Permission // optional
	// ShowUnauthorized renders an inline Access Denied panel instead of
	// redirecting to /unauthorized.
	ShowUnauthorized bool
}

// Decision is the result of EvaluateRoute.
type Decision struct {
	Outcome  Outcome
	Reason   Reason
	Location string // set for OutcomeRedirect
}

// EvaluateRoute applies the route gates in order: loading, authentication,
// account active, email verified, role and permission.
func EvaluateRoute(state authstate.State, currentPath string, req RouteRequirements) Decision {
	switch {
	case state.Loading:
		return Decision{Outcome: OutcomeLoading}
	case state.User == nil || state.Profile == nil:
		return redirect(ReasonUnauthenticated, LoginURL(currentPath))
	case !state.Profile.IsActive:
		return redirect(ReasonDeactivated, AccountDeactivatedPath)
	case !state.Profile.EmailVerified:
		return redirect(ReasonUnverified, VerifyEmailPath)
	}

	role := state.Profile.Role
	reason := ReasonNone
	if req.RequiredRole != "" && !domainauth.AtLeast(role, req.RequiredRole) {
		reason = ReasonRole
	} else if req.RequiredPermission != "" && !domainauth.HasPermission(role, req.RequiredPermission) {
		reason = ReasonPermission
	}
	if reason != ReasonNone {
		if req.ShowUnauthorized {
			return Decision{Outcome: OutcomeDenied, Reason: reason}
		}
		return redirect(reason, UnauthorizedPath)
	}
	return Decision{Outcome: OutcomeRender}
}

func redirect(reason Reason, location string) Decision {
	return Decision{Outcome: OutcomeRedirect, Reason: reason, Location: location}
}

// LoginURL is the sign-in page that returns to currentPath afterwards.
func LoginURL(currentPath string) string {
	if currentPath == "" {
		return LoginPath
	}
	return LoginPath + "?redirect=" + url.QueryEscape(currentPath)
}

// RoleGuardOptions restricts a fragment to roles and permissions.
type RoleGuardOptions struct {
	AllowedRoles        []domainauth.Role
	RequiredPermissions []domainauth.Permission
	// RequireAll demands every permission instead of any one of them.
	RequireAll bool
}

// AllowRole reports whether a guarded fragment may render. It needs a profile;
// empty role and permission lists do not restrict.
func AllowRole(state authstate.State, opts RoleGuardOptions) bool {
	if state.Profile == nil {
		return false
	}
	role := state.Profile.Role
	if len(opts.AllowedRoles) > 0 && !slices.Contains(opts.AllowedRoles, role) {
		return false
	}
	if len(opts.RequiredPermissions) == 0 {
		return true
	}
	if opts.RequireAll {
		return domainauth.HasAllPermissions(role, opts.RequiredPermissions...)
	}
	return domainauth.HasAnyPermission(role, opts.RequiredPermissions...)
}
