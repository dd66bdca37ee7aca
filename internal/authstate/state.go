// Package authstate holds the per-mount authentication state: the signed-in
// user, their profile and a loading flag. A Provider is the single writer;
// readers take Snapshots.
package authstate

import domainauth "github.com/northwind-consulting/portal/internal/domain/auth"

// State is an immutable view of the provider.
type State struct {
	User    *domainauth.User
	Profile *domainauth.Profile
	Loading bool
}

// IsAuthenticated reports whether both the user and the profile are known.
func (s State) IsAuthenticated() bool {
	return s.User != nil && s.Profile != nil
}

// Role returns the profile role, or "" without a profile.
func (s State) Role() domainauth.Role {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}

// IsAdmin is derived from the profile role.
func (s State) IsAdmin() bool {
	return s.Role() == domainauth.RoleAdmin
}

// IsHRManager includes admins.
func (s State) IsHRManager() bool {
	return s.Role() == domainauth.RoleHRManager || s.IsAdmin()
}

// Can reports whether the current role grants permission.
func (s State) Can(permission domainauth.Permission) bool {
	return s.Profile != nil && domainauth.HasPermission(s.Profile.Role, permission)
}
