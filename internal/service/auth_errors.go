package service

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/ports"
)

// User-facing messages for the auth error taxonomy.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgEmailNotConfirmed  = "Please verify your email address before signing in"
	msgRateLimited        = "Too many attempts. Please wait a few minutes and try again"
	msgDuplicateAccount   = "An account with this email already exists"
	msgAccountDeactivated = "Your account has been deactivated. Please contact support"
	msgProfileLoad        = "We could not load your profile. Please try again"
	msgProfileUpdate      = "We could not update your profile. Please try again"
	msgResetDispatch      = "We could not send the password reset email. Please try again later"
	msgSessionExpired     = "Your session has expired. Please sign in again"
	msgUnknown            = "An unexpected error occurred. Please try again"
)

// classifyBackendError maps an identity backend failure onto the auth error
// taxonomy. Codes are matched first; older backends only send messages.
func classifyBackendError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	be, ok := ports.AsBackendError(err)
	if !ok {
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, msgUnknown)
	}
	msg := strings.ToLower(be.Message)

	switch {
	case be.Code == "invalid_credentials" || strings.Contains(msg, "invalid login credentials"):
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, msgInvalidCredentials)
	case be.Code == "email_not_confirmed" || strings.Contains(msg, "email not confirmed"):
		return apperrors.Wrap(err, apperrors.ErrCodeEmailNotConfirmed, msgEmailNotConfirmed)
	case be.Status == http.StatusTooManyRequests || (strings.HasPrefix(be.Code, "over_") && strings.HasSuffix(be.Code, "_rate_limit")):
		return apperrors.Wrap(err, apperrors.ErrCodeRateLimited, msgRateLimited)
	case be.Code == "user_already_exists" || be.Code == "email_exists" || strings.Contains(msg, "already registered"):
		return apperrors.Wrap(err, apperrors.ErrCodeDuplicateAccount, msgDuplicateAccount)
	case be.Code == "weak_password" || be.Code == "same_password":
		return apperrors.Wrap(err, apperrors.ErrCodeWeakPassword, backendMessage(be))
	case be.Status == http.StatusUnauthorized:
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, msgSessionExpired)
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, msgUnknown)
	}
}

func backendMessage(be *ports.BackendError) string {
	if be.Message != "" {
		return be.Message
	}
	return msgUnknown
}

// weakPassword reports the first unmet rule; the full list stays reachable
// through the cause.
func weakPassword(err error) *apperrors.AppError {
	var policyErr *domainauth.PasswordPolicyError
	if !errors.As(err, &policyErr) {
		return apperrors.Wrap(err, apperrors.ErrCodeWeakPassword, err.Error())
	}
	return &apperrors.AppError{
		Code:    apperrors.ErrCodeWeakPassword,
		Message: policyErr.Error(),
		Cause:   policyErr,
		Field:   "password",
	}
}

// UnmetPasswordRules extracts the password rules behind a WeakPassword error.
func UnmetPasswordRules(err error) []domainauth.PasswordRule {
	var policyErr *domainauth.PasswordPolicyError
	if errors.As(err, &policyErr) {
		return policyErr.Unmet
	}
	return nil
}

var fieldLabels = map[string]string{
	"email":            "Email",
	"password":         "Password",
	"confirm_password": "Password confirmation",
	"full_name":        "Full name",
	"company":          "Company",
	"role":             "Role",
	"department":       "Department",
	"job_title":        "Job title",
}

// validationError converts the first validator failure into a field error.
func validationError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "Invalid input")
	}
	fe := verrs[0]
	field := fe.Field()
	label, ok := fieldLabels[field]
	if !ok {
		label = field
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = label + " is required"
	case "email":
		msg = "Please enter a valid email address"
	case "max":
		msg = label + " cannot exceed " + fe.Param() + " characters"
	default:
		msg = label + " is invalid"
	}
	return apperrors.ValidationField(field, msg)
}
