package auth

import (
	"fmt"
	"slices"
	"strings"
)

// Role represents an application's authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleHRManager Role = "hr_manager"
	RoleUser      Role = "user"
	RoleViewer    Role = "viewer"
)

// Permission is a capability string of the form "<resource>:<action>".
type Permission string

const (
	PermContentView       Permission = "content:view"
	PermDashboardView     Permission = "dashboard:view"
	PermProfileEdit       Permission = "profile:edit"
	PermAssessmentsSubmit Permission = "assessments:submit"
	PermJobsView          Permission = "jobs:view"
	PermJobsManage        Permission = "jobs:manage"
	PermCandidatesView    Permission = "candidates:view"
	PermCandidatesManage  Permission = "candidates:manage"
	PermLCAView           Permission = "lca:view"
	PermLCAManage         Permission = "lca:manage"
	PermReportsView       Permission = "reports:view"
	PermUsersManage       Permission = "users:manage"
	PermSettingsManage    Permission = "settings:manage"
)

// RoleDisplay is the human-facing description of a role.
type RoleDisplay struct {
	Role        Role   `json:"role"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Badge       string `json:"badge"`
}

var roleLevels = map[Role]int{
	RoleAdmin:     3,
	RoleHRManager: 2,
	RoleUser:      1,
	RoleViewer:    0,
}

var basePermissions = []Permission{PermContentView, PermDashboardView, PermJobsView}

var memberPermissions = append(slices.Clone(basePermissions), PermProfileEdit, PermAssessmentsSubmit)

var hrPermissions = append(slices.Clone(memberPermissions),
	PermJobsManage,
	PermCandidatesView,
	PermCandidatesManage,
	PermLCAView,
	PermReportsView,
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: append(slices.Clone(hrPermissions),
		PermLCAManage,
		PermUsersManage,
		PermSettingsManage,
	),
	RoleHRManager: hrPermissions,
	RoleUser:      memberPermissions,
	RoleViewer:    basePermissions,
}

var roleDisplays = map[Role]RoleDisplay{
	RoleAdmin: {
		Role:        RoleAdmin,
		Label:       "Administrator",
		Description: "Full access, including user management and site settings.",
		Badge:       "red",
	},
	RoleHRManager: {
		Role:        RoleHRManager,
		Label:       "HR Manager",
		Description: "Manages job postings, candidates, LCA filings and reports.",
		Badge:       "blue",
	},
	RoleUser: {
		Role:        RoleUser,
		Label:       "User",
		Description: "Can edit their profile, browse jobs and submit assessments.",
		Badge:       "green",
	},
	RoleViewer: {
		Role:        RoleViewer,
		Label:       "Viewer",
		Description: "Read-only access to content and job listings.",
		Badge:       "gray",
	},
}

// Roles returns every known role, highest level first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleHRManager, RoleUser, RoleViewer}
}

// ParseRole converts s into a known Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleLevels[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// RoleLevel returns the numeric level of role, or -1 for unknown roles.
func RoleLevel(role Role) int {
	if lvl, ok := roleLevels[role]; ok {
		return lvl
	}
	return -1
}

// AtLeast reports whether role is known and ranks at or above minimum.
func AtLeast(role, minimum Role) bool {
	return role.Valid() && minimum.Valid() && RoleLevel(role) >= RoleLevel(minimum)
}

// PermissionsFor returns a copy of the permissions granted to role.
func PermissionsFor(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// HasPermission reports whether role grants permission.
func HasPermission(role Role, permission Permission) bool {
	return slices.Contains(rolePermissions[role], permission)
}

// HasAnyPermission reports whether role grants at least one of permissions.
// An empty list is never satisfied.
func HasAnyPermission(role Role, permissions ...Permission) bool {
	for _, p := range permissions {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role grants every one of permissions.
// An empty list is always satisfied.
func HasAllPermissions(role Role, permissions ...Permission) bool {
	for _, p := range permissions {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// DisplayInfo returns the label and description for role.
// Unknown roles get a generic entry built from the raw value.
func DisplayInfo(role Role) RoleDisplay {
	if d, ok := roleDisplays[role]; ok {
		return d
	}
	return RoleDisplay{Role: role, Label: string(role), Description: "Unrecognized role.", Badge: "gray"}
}
