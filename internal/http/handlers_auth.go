package httpx

import (
	"net/http"
	"strings"

	"github.com/northwind-consulting/portal/internal/authstate"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/guard"
	"github.com/northwind-consulting/portal/internal/service"
)

const (
	noticeResetSent    = "If an account exists for that email, we sent a link to reset your password."
	noticeConfirmEmail = "Account created. Check your inbox for a confirmation link."
	msgResetLinkGone   = "This reset link is invalid or has expired. Please request a new one."
	msgConfirmLinkGone = "This confirmation link is invalid or has expired. Sign in to request a new one."
)

// LoginPage shows the sign-in form. Visitors who can already use the app are
// sent straight to the redirect target.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	target := safeRedirectPath(r.URL.Query().Get("redirect"))
	if canEnter(AuthStateFromContext(r.Context())) {
		http.Redirect(w, r, landingPath(target), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, PageData{Page: PageLogin, Title: "Sign in", Redirect: target})
}

// LoginSubmit handles the sign-in form.
func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	creds := domainauth.Credentials{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	target := safeRedirectPath(r.PostFormValue("redirect"))

	if err := p.SignIn(r.Context(), creds, h.deviceInfo(r)); err != nil {
		data := formError(err, PageData{Page: PageLogin, Title: "Sign in", Redirect: target})
		data.Form = map[string]string{"email": creds.Email}
		h.render(w, r, StatusForError(err), data)
		return
	}
	http.Redirect(w, r, landingPath(target), http.StatusSeeOther)
}

// SignupPage shows the registration form.
func (h *Handlers) SignupPage(w http.ResponseWriter, r *http.Request) {
	if canEnter(AuthStateFromContext(r.Context())) {
		http.Redirect(w, r, guard.DefaultLandingPath, http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, PageData{Page: PageSignup, Title: "Create account"})
}

// SignupSubmit handles the registration form.
func (h *Handlers) SignupSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	in := domainauth.SignUpInput{
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
		FullName:        r.PostFormValue("full_name"),
		Company:         r.PostFormValue("company"),
		JobTitle:        r.PostFormValue("role"),
		Department:      r.PostFormValue("department"),
	}

	res, err := p.SignUp(r.Context(), in)
	if err != nil {
		data := formError(err, PageData{Page: PageSignup, Title: "Create account"})
		data.Form = map[string]string{
			"email":      in.Email,
			"full_name":  in.FullName,
			"company":    in.Company,
			"role":       in.JobTitle,
			"department": in.Department,
		}
		h.render(w, r, StatusForError(err), data)
		return
	}
	if res.ConfirmationRequired {
		http.Redirect(w, r, guard.VerifyEmailPath+"?sent=1", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, guard.DefaultLandingPath, http.StatusSeeOther)
}

// Logout signs out and drops the session cookie. It never fails.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	_ = p.SignOut(r.Context())
	forgetSession(r.Context())
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

// ForgotPasswordPage shows the reset request form.
func (h *Handlers) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageData{Page: PageForgotPassword, Title: "Reset password"})
}

// ForgotPasswordSubmit sends the recovery email. The answer does not reveal
// whether the address is registered.
func (h *Handlers) ForgotPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	if err := p.ResetPassword(r.Context(), email); err != nil {
		data := formError(err, PageData{Page: PageForgotPassword, Title: "Reset password"})
		data.Form = map[string]string{"email": email}
		h.render(w, r, StatusForError(err), data)
		return
	}
	h.render(w, r, http.StatusOK, PageData{Page: PageForgotPassword, Title: "Reset password", Notice: noticeResetSent})
}

// ResetPasswordPage is where recovery links land. The token pair travels in
// the URL fragment and is copied into the form by the page.
func (h *Handlers) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageData{Page: PageResetPassword, Title: "Choose a new password"})
}

// ResetPasswordSubmit adopts the recovery session, if one was submitted, and
// sets the new password.
func (h *Handlers) ResetPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	page := PageData{Page: PageResetPassword, Title: "Choose a new password"}

	tokens := domainauth.TokenPair{
		AccessToken:  r.PostFormValue("access_token"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}
	if tokens.AccessToken != "" || tokens.RefreshToken != "" {
		if err := p.AdoptSession(r.Context(), tokens); err != nil {
			h.logger.InfoContext(r.Context(), "recovery session rejected", "error", err)
			page.Error = msgResetLinkGone
			h.render(w, r, http.StatusBadRequest, page)
			return
		}
	}
	if p.Snapshot().User == nil {
		page.Error = msgResetLinkGone
		h.render(w, r, http.StatusBadRequest, page)
		return
	}

	if err := p.ChangePassword(r.Context(), r.PostFormValue("password"), r.PostFormValue("confirm_password")); err != nil {
		h.render(w, r, StatusForError(err), formError(err, page))
		return
	}
	http.Redirect(w, r, guard.DefaultLandingPath, http.StatusSeeOther)
}

// VerifyEmailPage explains the pending email confirmation.
func (h *Handlers) VerifyEmailPage(w http.ResponseWriter, r *http.Request) {
	data := PageData{Page: PageVerifyEmail, Title: "Verify your email"}
	if r.URL.Query().Get("sent") == "1" {
		data.Notice = noticeConfirmEmail
	}
	h.render(w, r, http.StatusOK, data)
}

// VerifyEmailSubmit adopts the session carried by a confirmation link, which
// records the confirmed address on the profile, and continues to the app.
func (h *Handlers) VerifyEmailSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	tokens := domainauth.TokenPair{
		AccessToken:  r.PostFormValue("access_token"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}
	if err := p.AdoptSession(r.Context(), tokens); err != nil {
		h.logger.InfoContext(r.Context(), "confirmation session rejected", "error", err)
		h.render(w, r, http.StatusBadRequest, PageData{
			Page:  PageVerifyEmail,
			Title: "Verify your email",
			Error: msgConfirmLinkGone,
		})
		return
	}
	http.Redirect(w, r, guard.DefaultLandingPath, http.StatusSeeOther)
}

// AccountDeactivatedPage is shown to signed-in users whose profile is inactive.
func (h *Handlers) AccountDeactivatedPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageData{Page: PageAccountDeactivated, Title: "Account deactivated"})
}

// UnauthorizedPage is the redirect target of routes that deny instead of
// rendering an inline panel.
func (h *Handlers) UnauthorizedPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, PageData{Page: PageUnauthorized, Title: "Unauthorized"})
}

// canEnter reports whether the visitor would pass an unrestricted route.
func canEnter(state authstate.State) bool {
	return guard.EvaluateRoute(state, "", guard.RouteRequirements{}).Outcome == guard.OutcomeRender
}

func landingPath(target string) string {
	if target == "" || strings.HasPrefix(target, "/auth/") {
		return guard.DefaultLandingPath
	}
	return target
}

// formError copies an operation error onto the page.
func formError(err error, data PageData) PageData {
	appErr := apperrors.As(err)
	data.Error = appErr.Message
	data.ErrorField = appErr.Field
	for _, rule := range service.UnmetPasswordRules(err) {
		data.Rules = append(data.Rules, rule.Message())
	}
	return data
}

// parseForm reads a form body, answering 400 itself on failure.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return false
	}
	return true
}
