package auth

// Package auth contains domain-level types for accounts, sessions and roles.
// It is pure and free of framework/adapter concerns.

import "time"

// User is the account record owned by the identity backend.
type User struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]string `json:"user_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EmailConfirmed reports whether the backend has confirmed the user's email.
func (u User) EmailConfirmed() bool { return u.EmailConfirmedAt != nil }

// TokenPair is the opaque credential bundle issued by the identity backend.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session is the server-side record of an authenticated browser session.
// The application never interprets the token contents.
type Session struct {
	Tokens    TokenPair `json:"tokens"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"` // access token expiry
	User      User      `json:"user"`
}

// Expired reports whether the access token is expired at now, allowing skew.
func (s Session) Expired(now time.Time, skew time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

// Profile is the application-owned record keyed 1:1 by the backend user id.
type Profile struct {
	ID                string     `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	Role              Role       `json:"role" db:"role"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	EmailVerified     bool       `json:"email_verified" db:"email_verified"`
	FullName          string     `json:"full_name" db:"full_name"`
	Company           string     `json:"company" db:"company"`
	Department        string     `json:"department" db:"department"`
	JobTitle          string     `json:"job_title" db:"job_title"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	LoginCount        int        `json:"login_count" db:"login_count"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty" db:"password_changed_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NewProfile is the input used to create a profile after sign-up.
type NewProfile struct {
	ID            string
	Email         string
	Role          Role
	IsActive      bool
	EmailVerified bool
	FullName      string
	Company       string
	Department    string
	JobTitle      string
}

// ProfileUpdate is a partial update of the fields a user may edit on their own profile.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName   *string `json:"full_name,omitempty"`
	Company    *string `json:"company,omitempty"`
	Department *string `json:"department,omitempty"`
	JobTitle   *string `json:"job_title,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Company == nil && u.Department == nil && u.JobTitle == nil
}

// AdminProfileUpdate changes the access-gating fields of a profile.
// Only backend-side processes (admin API, CLI) issue it.
type AdminProfileUpdate struct {
	Role          *Role `json:"role,omitempty"`
	IsActive      *bool `json:"is_active,omitempty"`
	EmailVerified *bool `json:"email_verified,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u AdminProfileUpdate) IsEmpty() bool {
	return u.Role == nil && u.IsActive == nil && u.EmailVerified == nil
}

// Credentials are the email/password pair submitted at sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DeviceInfo describes the client performing an operation.
type DeviceInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// SignUpInput is the sign-up form submission.
type SignUpInput struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	FullName        string `json:"full_name" validate:"required,max=200"`
	Company         string `json:"company" validate:"max=200"`
	JobTitle        string `json:"role" validate:"max=200"`
	Department      string `json:"department" validate:"max=200"`
}

// ChangeEvent names a session state transition published by the session client.
type ChangeEvent string

const (
	EventInitialSession   ChangeEvent = "INITIAL_SESSION"
	EventSignedIn         ChangeEvent = "SIGNED_IN"
	EventSignedOut        ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed   ChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated      ChangeEvent = "USER_UPDATED"
	EventPasswordRecovery ChangeEvent = "PASSWORD_RECOVERY"
)
