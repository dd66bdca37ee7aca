package httpx

import (
	"net/http"
	"strconv"

	"github.com/northwind-consulting/portal/internal/authstate"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/guard"
	"github.com/northwind-consulting/portal/internal/ports"
)

// statusResponse is the JSON view of an auth state.
type statusResponse struct {
	Authenticated bool                    `json:"authenticated"`
	Loading       bool                    `json:"loading"`
	User          *domainauth.User        `json:"user"`
	Profile       *domainauth.Profile     `json:"profile"`
	IsAdmin       bool                    `json:"is_admin"`
	IsHRManager   bool                    `json:"is_hr_manager"`
	Permissions   []domainauth.Permission `json:"permissions"`
}

func toStatus(s authstate.State) statusResponse {
	out := statusResponse{
		Authenticated: s.IsAuthenticated(),
		Loading:       s.Loading,
		User:          s.User,
		Profile:       s.Profile,
		IsAdmin:       s.IsAdmin(),
		IsHRManager:   s.IsHRManager(),
		Permissions:   []domainauth.Permission{},
	}
	if s.Profile != nil {
		out.Permissions = domainauth.PermissionsFor(s.Profile.Role)
	}
	return out
}

// APILogin signs in with {"email", "password"}.
func (h *Handlers) APILogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var creds domainauth.Credentials
	if !DecodeJSON(w, r, &creds) {
		return
	}
	if err := p.SignIn(r.Context(), creds, h.deviceInfo(r)); err != nil {
		WriteAPIError(w, err)
		return
	}
	s := p.Snapshot()
	WriteResult(w, http.StatusOK, map[string]any{"user": s.User, "profile": s.Profile})
}

// APISignup registers an account. confirmation_required tells the client
// whether to show the check-your-inbox step.
func (h *Handlers) APISignup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var in domainauth.SignUpInput
	if !DecodeJSON(w, r, &in) {
		return
	}
	res, err := p.SignUp(r.Context(), in)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusCreated, map[string]any{
		"user":                  res.User,
		"profile":               res.Profile,
		"confirmation_required": res.ConfirmationRequired,
	})
}

// APILogout always succeeds.
func (h *Handlers) APILogout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	_ = p.SignOut(r.Context())
	forgetSession(r.Context())
	WriteResult(w, http.StatusOK, nil)
}

// APIResetPassword requests a recovery email for {"email"}.
func (h *Handlers) APIResetPassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if err := p.ResetPassword(r.Context(), body.Email); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, nil)
}

// APISetSession adopts a token pair from a confirmation or recovery link and
// returns the resulting auth state.
func (h *Handlers) APISetSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var tokens domainauth.TokenPair
	if !DecodeJSON(w, r, &tokens) {
		return
	}
	if err := p.AdoptSession(r.Context(), tokens); err != nil {
		h.logger.InfoContext(r.Context(), "session adoption rejected", "error", err)
		writeAPIRedirect(w, http.StatusUnauthorized, ErrCodeAuthRequired, msgResetLinkGone, guard.LoginPath)
		return
	}
	if err := p.Wait(r.Context()); err != nil {
		WriteAPIError(w, apperrors.MapDBError(err))
		return
	}
	WriteResult(w, http.StatusOK, map[string]any{"status": toStatus(p.Snapshot())})
}

// APIChangePassword sets {"password", "confirm_password"} for the current user.
func (h *Handlers) APIChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var body struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if err := p.ChangePassword(r.Context(), body.Password, body.ConfirmPassword); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, nil)
}

// APIStatus reports the current auth state. It never fails.
func (h *Handlers) APIStatus(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, http.StatusOK, map[string]any{"status": toStatus(AuthStateFromContext(r.Context()))})
}

// APIUpdateProfile applies a partial profile update and returns the stored row.
func (h *Handlers) APIUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	var upd domainauth.ProfileUpdate
	if !DecodeJSON(w, r, &upd) {
		return
	}
	if err := p.UpdateProfile(r.Context(), upd); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, map[string]any{"profile": p.Snapshot().Profile})
}

// APIRefreshProfile reloads the current profile from the database.
func (h *Handlers) APIRefreshProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if err := p.RefreshProfile(r.Context()); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, map[string]any{"profile": p.Snapshot().Profile})
}

type roleResponse struct {
	domainauth.RoleDisplay
	Level       int                     `json:"level"`
	Permissions []domainauth.Permission `json:"permissions"`
}

// APIRoles lists the role catalogue, highest level first.
func (h *Handlers) APIRoles(w http.ResponseWriter, _ *http.Request) {
	roles := make([]roleResponse, 0, len(domainauth.Roles()))
	for _, role := range domainauth.Roles() {
		roles = append(roles, roleResponse{
			RoleDisplay: domainauth.DisplayInfo(role),
			Level:       domainauth.RoleLevel(role),
			Permissions: domainauth.PermissionsFor(role),
		})
	}
	WriteResult(w, http.StatusOK, map[string]any{"roles": roles})
}

// APIListProfiles lists profiles filtered by ?role=, ?active=, ?limit= and ?offset=.
func (h *Handlers) APIListProfiles(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	profiles, err := h.svc.ListProfiles(r.Context(), opts)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, map[string]any{"profiles": profiles})
}

// APIAdminUpdateProfile changes role and account flags of another user.
func (h *Handlers) APIAdminUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var upd domainauth.AdminProfileUpdate
	if !DecodeJSON(w, r, &upd) {
		return
	}
	if self := AuthStateFromContext(r.Context()).User; self != nil && self.ID == id {
		WriteAPIError(w, apperrors.Validation("You cannot change your own access"))
		return
	}
	profile, err := h.svc.AdminUpdateProfile(r.Context(), id, upd)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteResult(w, http.StatusOK, map[string]any{"profile": profile})
}

func listOptions(r *http.Request) (ports.ProfileListOptions, error) {
	q := r.URL.Query()
	var opts ports.ProfileListOptions
	if v := q.Get("role"); v != "" {
		role, err := domainauth.ParseRole(v)
		if err != nil {
			return opts, apperrors.ValidationField("role", "Unknown role "+v)
		}
		opts.Role = &role
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return opts, apperrors.ValidationField("active", "active must be true or false")
		}
		opts.Active = &active
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperrors.ValidationField(f.name, f.name+" must be a non-negative integer")
		}
		*f.dst = n
	}
	return opts, nil
}
