package service

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/observability/metrics"
	"github.com/northwind-consulting/portal/internal/ports"
)

// Default local sign-in throttle.
const (
	DefaultLoginAttempts = 10
	DefaultLoginWindow   = 15 * time.Minute
)

const maxProfileFieldLength = 200

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Profiles ports.ProfileRepository
	Cache    ports.ProfileCache // optional
	Limiter  ports.RateLimiter  // optional
	Metrics  *metrics.Metrics   // optional
	Logger   *slog.Logger       // optional
	Clock    func() time.Time   // optional
	// EmailRedirectURL is where confirmation links land.
	EmailRedirectURL string
	// ResetRedirectURL is where password recovery links land.
	ResetRedirectURL string
	LoginAttempts    int
	LoginWindow      time.Duration
}

// AuthService is the single entry point for credential and profile
// operations. Every error it returns is an *apperrors.AppError.
type AuthService struct {
	profiles ports.ProfileRepository
	cache    ports.ProfileCache
	limiter  ports.RateLimiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
	loads    singleflight.Group

	emailRedirectURL string
	resetRedirectURL string
	loginAttempts    int
	loginWindow      time.Duration
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.Profiles == nil {
		panic("ProfileRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	attempts := opts.LoginAttempts
	if attempts <= 0 {
		attempts = DefaultLoginAttempts
	}
	window := opts.LoginWindow
	if window <= 0 {
		window = DefaultLoginWindow
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &AuthService{
		profiles:         opts.Profiles,
		cache:            opts.Cache,
		limiter:          opts.Limiter,
		metrics:          opts.Metrics,
		logger:           logger.With("component", "auth_service"),
		now:              now,
		validate:         v,
		emailRedirectURL: opts.EmailRedirectURL,
		resetRedirectURL: opts.ResetRedirectURL,
		loginAttempts:    attempts,
		loginWindow:      window,
	}
}

// LoginResult is returned by a successful LoginUser.
type LoginResult struct {
	User    domainauth.User
	Profile *domainauth.Profile
	Session *domainauth.Session
}

// LoginUser checks credentials, then loads the profile and enforces the
// account gates. A failure after the credential check signs the client out
// again so no half-authenticated session remains.
func (s *AuthService) LoginUser(
	ctx context.Context,
	client ports.SessionClient,
	creds domainauth.Credentials,
	device domainauth.DeviceInfo,
) (_ *LoginResult, err error) {
	defer s.observe("login", s.now(), &err)

	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" {
		return nil, apperrors.ValidationField("email", "Email is required")
	}
	if creds.Password == "" {
		return nil, apperrors.ValidationField("password", "Password is required")
	}

	if allowErr := s.allowLogin(ctx, creds.Email, device.IP); allowErr != nil {
		return nil, allowErr
	}

	sess, err := client.SignInWithPassword(ctx, creds)
	if err != nil {
		appErr := classifyBackendError(err)
		s.logger.InfoContext(ctx, "sign-in rejected", "code", appErr.Code, "ip", device.IP)
		return nil, appErr
	}

	profile, err := s.profiles.GetByID(ctx, sess.User.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "profile load failed after sign-in", "user_id", sess.User.ID, "error", err)
		s.forceSignOut(ctx, client, sess.User.ID)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileLoadFailure, msgProfileLoad)
	}
	profile = s.syncEmailConfirmation(ctx, sess.User, profile)
	if gateErr := accountGate(profile); gateErr != nil {
		s.logger.InfoContext(ctx, "sign-in blocked by account gate", "user_id", profile.ID, "code", gateErr.Code)
		s.forceSignOut(ctx, client, profile.ID)
		return nil, gateErr
	}

	if updated, recErr := s.profiles.RecordLogin(ctx, profile.ID, s.now().UTC()); recErr != nil {
		s.logger.WarnContext(ctx, "failed to record login", "user_id", profile.ID, "error", recErr)
	} else {
		profile = updated
	}
	s.storeProfile(ctx, profile)

	s.logger.InfoContext(ctx, "user signed in",
		"user_id", profile.ID,
		"role", profile.Role,
		"ip", device.IP,
		"user_agent", device.UserAgent,
	)
	return &LoginResult{User: sess.User, Profile: profile, Session: sess}, nil
}

// syncEmailConfirmation marks the profile verified once the identity backend
// reports the address confirmed. A failed write leaves the profile unverified.
func (s *AuthService) syncEmailConfirmation(
	ctx context.Context,
	user domainauth.User,
	profile *domainauth.Profile,
) *domainauth.Profile {
	if profile.EmailVerified || !user.EmailConfirmed() {
		return profile
	}
	verified := true
	updated, err := s.profiles.UpdateAccess(ctx, profile.ID, domainauth.AdminProfileUpdate{EmailVerified: &verified})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record email confirmation", "user_id", profile.ID, "error", err)
		return profile
	}
	s.logger.InfoContext(ctx, "email confirmed", "user_id", profile.ID)
	return updated
}

// AdoptSession takes over a token pair delivered by a confirmation or recovery
// link and returns the signed-in user with their profile. Account gates are
// left to the route guard so a deactivated user still lands on the right page.
func (s *AuthService) AdoptSession(
	ctx context.Context,
	client ports.SessionClient,
	tokens domainauth.TokenPair,
) (_ *LoginResult, err error) {
	defer s.observe("adopt_session", s.now(), &err)

	sess, err := client.SetSession(ctx, tokens)
	if err != nil {
		appErr := classifyBackendError(err)
		s.logger.InfoContext(ctx, "session adoption rejected", "code", appErr.Code)
		return nil, appErr
	}

	profile, err := s.profiles.GetByID(ctx, sess.User.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "profile load failed after session adoption", "user_id", sess.User.ID, "error", err)
		s.forceSignOut(ctx, client, sess.User.ID)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileLoadFailure, msgProfileLoad)
	}
	profile = s.syncEmailConfirmation(ctx, sess.User, profile)
	s.storeProfile(ctx, profile)
	return &LoginResult{User: sess.User, Profile: profile, Session: sess}, nil
}

// accountGate enforces is_active and email_verified, in that order.
func accountGate(p *domainauth.Profile) *apperrors.AppError {
	if !p.IsActive {
		return apperrors.New(apperrors.ErrCodeAccountDeactivated, msgAccountDeactivated)
	}
	if !p.EmailVerified {
		return apperrors.New(apperrors.ErrCodeEmailNotConfirmed, msgEmailNotConfirmed)
	}
	return nil
}

// allowLogin applies the local throttle per email and per client IP. Limiter
// outages fail open.
func (s *AuthService) allowLogin(ctx context.Context, email, ip string) *apperrors.AppError {
	if s.limiter == nil {
		return nil
	}
	keys := []string{"login:email:" + strings.ToLower(email)}
	if ip != "" {
		keys = append(keys, "login:ip:"+ip)
	}
	for _, key := range keys {
		ok, err := s.limiter.Allow(ctx, key, s.loginAttempts, s.loginWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "login rate limiter unavailable", "error", err)
			return nil
		}
		if !ok {
			s.logger.WarnContext(ctx, "login throttled", "key", key)
			return apperrors.New(apperrors.ErrCodeRateLimited, msgRateLimited)
		}
	}
	return nil
}

func (s *AuthService) forceSignOut(ctx context.Context, client ports.SessionClient, userID string) {
	if err := client.SignOut(ctx); err != nil {
		s.logger.WarnContext(ctx, "forced sign-out incomplete", "user_id", userID, "error", err)
	}
	s.dropProfile(ctx, userID)
}

// RegisterResult is returned by a successful RegisterUser. Session is nil
// while email confirmation is pending.
type RegisterResult struct {
	User                 domainauth.User
	Profile              *domainauth.Profile
	Session              *domainauth.Session
	ConfirmationRequired bool
}

// RegisterUser validates the sign-up form, creates the account and its profile.
func (s *AuthService) RegisterUser(
	ctx context.Context,
	client ports.SessionClient,
	in domainauth.SignUpInput,
) (_ *RegisterResult, err error) {
	defer s.observe("register", s.now(), &err)

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Company = strings.TrimSpace(in.Company)
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.Department = strings.TrimSpace(in.Department)

	if vErr := s.validate.Struct(in); vErr != nil {
		return nil, validationError(vErr)
	}
	if pwErr := domainauth.ValidatePassword(in.Password); pwErr != nil {
		return nil, weakPassword(pwErr)
	}
	if in.Password != in.ConfirmPassword {
		return nil, apperrors.ValidationField("confirm_password", "Passwords do not match")
	}

	user, sess, err := client.SignUp(ctx, ports.SignUpRequest{
		Email:    in.Email,
		Password: in.Password,
		Metadata: map[string]string{
			"full_name":  in.FullName,
			"company":    in.Company,
			"role":       in.JobTitle,
			"department": in.Department,
		},
		RedirectTo: s.emailRedirectURL,
	})
	if err != nil {
		appErr := classifyBackendError(err)
		s.logger.InfoContext(ctx, "sign-up rejected", "code", appErr.Code)
		return nil, appErr
	}

	profile, err := s.profiles.Create(ctx, domainauth.NewProfile{
		ID:            user.ID,
		Email:         user.Email,
		Role:          domainauth.RoleUser,
		IsActive:      true,
		EmailVerified: user.EmailConfirmed(),
		FullName:      in.FullName,
		Company:       in.Company,
		Department:    in.Department,
		JobTitle:      in.JobTitle,
	})
	if err != nil {
		if sess != nil {
			s.forceSignOut(ctx, client, user.ID)
		}
		if apperrors.IsConflict(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDuplicateAccount, msgDuplicateAccount)
		}
		s.logger.ErrorContext(ctx, "profile creation failed", "user_id", user.ID, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileUpdateFailure, msgProfileUpdate)
	}
	s.storeProfile(ctx, profile)

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "confirmation_required", sess == nil)
	return &RegisterResult{
		User:                 *user,
		Profile:              profile,
		Session:              sess,
		ConfirmationRequired: sess == nil,
	}, nil
}

// LogoutUser ends the session. It never fails: backend and storage errors are
// logged and the local state is cleared regardless.
func (s *AuthService) LogoutUser(ctx context.Context, client ports.SessionClient, userID string) {
	start := s.now()
	err := client.SignOut(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "sign-out incomplete", "user_id", userID, "error", err)
	}
	s.dropProfile(ctx, userID)
	s.metrics.EmitAuthOperation(metrics.AuthMetric{
		Operation: "logout",
		Result:    metrics.ResultSuccess,
		Duration:  s.now().Sub(start),
	})
	s.logger.InfoContext(ctx, "user signed out", "user_id", userID)
}

// InitiatePasswordReset sends a recovery link. Unknown addresses are reported
// as success so the response does not reveal which emails have accounts.
func (s *AuthService) InitiatePasswordReset(ctx context.Context, client ports.SessionClient, email string) (err error) {
	defer s.observe("password_reset", s.now(), &err)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperrors.ValidationField("email", "Email is required")
	}
	if vErr := s.validate.Var(email, "email"); vErr != nil {
		return apperrors.ValidationField("email", "Please enter a valid email address")
	}

	if err := client.ResetPasswordForEmail(ctx, email, s.resetRedirectURL); err != nil {
		if be, ok := ports.AsBackendError(err); ok && (be.Status == http.StatusNotFound || be.Code == "user_not_found") {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		s.logger.ErrorContext(ctx, "password reset dispatch failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeResetDispatchFailure, msgResetDispatch)
	}
	return nil
}

// ChangePassword sets a new password for the signed-in user, typically at the
// end of the recovery flow.
func (s *AuthService) ChangePassword(
	ctx context.Context,
	client ports.SessionClient,
	userID, password, confirm string,
) (err error) {
	defer s.observe("change_password", s.now(), &err)

	if password == "" {
		return apperrors.ValidationField("password", "Password is required")
	}
	if pwErr := domainauth.ValidatePassword(password); pwErr != nil {
		return weakPassword(pwErr)
	}
	if password != confirm {
		return apperrors.ValidationField("confirm_password", "Passwords do not match")
	}

	user, err := client.UpdateUser(ctx, ports.UserAttributes{Password: password})
	if err != nil {
		return classifyBackendError(err)
	}
	if userID == "" {
		userID = user.ID
	}

	if markErr := s.profiles.MarkPasswordChanged(ctx, userID, s.now().UTC()); markErr != nil {
		s.logger.WarnContext(ctx, "failed to record password change", "user_id", userID, "error", markErr)
	}
	s.dropProfile(ctx, userID)
	s.logger.InfoContext(ctx, "password changed", "user_id", userID)
	return nil
}

// UpdateProfile applies a self-service profile edit and returns the stored row.
func (s *AuthService) UpdateProfile(
	ctx context.Context,
	userID string,
	upd domainauth.ProfileUpdate,
) (_ *domainauth.Profile, err error) {
	defer s.observe("update_profile", s.now(), &err)

	if userID == "" {
		return nil, apperrors.Validation("User ID is required")
	}
	if upd.IsEmpty() {
		return nil, apperrors.Validation("No profile changes provided")
	}
	upd = trimProfileUpdate(upd)
	if upd.FullName != nil && *upd.FullName == "" {
		return nil, apperrors.ValidationField("full_name", "Full name is required")
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"full_name", upd.FullName},
		{"company", upd.Company},
		{"department", upd.Department},
		{"job_title", upd.JobTitle},
	} {
		if f.value != nil && utf8.RuneCountInString(*f.value) > maxProfileFieldLength {
			return nil, apperrors.ValidationField(f.name, fieldLabels[f.name]+" cannot exceed 200 characters")
		}
	}

	profile, err := s.profiles.Update(ctx, userID, upd)
	if err != nil {
		s.logger.ErrorContext(ctx, "profile update failed", "user_id", userID, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileUpdateFailure, msgProfileUpdate)
	}
	s.storeProfile(ctx, profile)
	return profile, nil
}

func trimProfileUpdate(upd domainauth.ProfileUpdate) domainauth.ProfileUpdate {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	return domainauth.ProfileUpdate{
		FullName:   trim(upd.FullName),
		Company:    trim(upd.Company),
		Department: trim(upd.Department),
		JobTitle:   trim(upd.JobTitle),
	}
}

// GetProfile returns the profile, served from the cache when possible.
// Concurrent loads of the same user share one repository read.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	if userID == "" {
		return nil, apperrors.Validation("User ID is required")
	}
	if s.cache != nil {
		p, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.WarnContext(ctx, "profile cache read failed", "user_id", userID, "error", err)
		}
		s.metrics.ProfileCacheLookup(ok)
		if ok {
			return p, nil
		}
	}
	return s.loadProfile(ctx, "get:"+userID, userID)
}

// ReloadProfile bypasses the cache and refreshes it with the stored row.
func (s *AuthService) ReloadProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	if userID == "" {
		return nil, apperrors.Validation("User ID is required")
	}
	return s.loadProfile(ctx, "reload:"+userID, userID)
}

func (s *AuthService) loadProfile(ctx context.Context, key, userID string) (*domainauth.Profile, error) {
	v, err, _ := s.loads.Do(key, func() (any, error) {
		p, err := s.profiles.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.storeProfile(ctx, p)
		return p, nil
	})
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.ErrorContext(ctx, "profile load failed", "user_id", userID, "error", err)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileLoadFailure, msgProfileLoad)
	}
	p := *v.(*domainauth.Profile)
	return &p, nil
}

// HasPermission reports whether the user's current role grants permission.
func (s *AuthService) HasPermission(ctx context.Context, userID string, permission domainauth.Permission) (bool, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return domainauth.HasPermission(p.Role, permission), nil
}

// AdminUpdateProfile changes role and account flags. Other instances see the
// change once their cached copy is invalidated here.
func (s *AuthService) AdminUpdateProfile(
	ctx context.Context,
	userID string,
	upd domainauth.AdminProfileUpdate,
) (_ *domainauth.Profile, err error) {
	defer s.observe("admin_update_profile", s.now(), &err)

	if userID == "" {
		return nil, apperrors.Validation("User ID is required")
	}
	if upd.IsEmpty() {
		return nil, apperrors.Validation("No profile changes provided")
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, apperrors.ValidationField("role", "Unknown role "+string(*upd.Role))
	}

	profile, err := s.profiles.UpdateAccess(ctx, userID, upd)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileUpdateFailure, msgProfileUpdate)
	}
	s.dropProfile(ctx, userID)
	s.logger.InfoContext(ctx, "profile access updated",
		"user_id", userID,
		"role", profile.Role,
		"is_active", profile.IsActive,
		"email_verified", profile.EmailVerified,
	)
	return profile, nil
}

// ListProfiles returns profiles for administration.
func (s *AuthService) ListProfiles(ctx context.Context, opts ports.ProfileListOptions) ([]*domainauth.Profile, error) {
	if opts.Role != nil && !opts.Role.Valid() {
		return nil, apperrors.ValidationField("role", "Unknown role "+string(*opts.Role))
	}
	profiles, err := s.profiles.List(ctx, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProfileLoadFailure, msgProfileLoad)
	}
	return profiles, nil
}

func (s *AuthService) storeProfile(ctx context.Context, p *domainauth.Profile) {
	if s.cache == nil || p == nil {
		return
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "profile cache write failed", "user_id", p.ID, "error", err)
	}
}

func (s *AuthService) dropProfile(ctx context.Context, userID string) {
	if s.cache == nil || userID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "profile cache invalidation failed", "user_id", userID, "error", err)
	}
}

// observe records the outcome of an operation. Validation failures count as
// errors with class "validation".
func (s *AuthService) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	s.metrics.EmitAuthOperation(metrics.AuthMetric{
		Operation: op,
		Result:    result,
		Duration:  s.now().Sub(start),
		Err:       err,
	})
}
