package httpx

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
)

func apiLogin(t *testing.T, env *testEnv, email string) map[string]any {
	t.Helper()
	resp, body := env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, "login %s: %v", email, body["error"])
	return body
}

func TestAPI_AnonymousGetsJSON401(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodPatch, "/api/profile", map[string]string{"full_name": "X"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "authentication_required", e["code"])
	assert.Equal(t, "/auth/login?redirect=%2Fapi%2Fprofile", e["redirect_to"])
}

func TestAPI_LoginUpdateProfileStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	body := apiLogin(t, env, "user@northwind.test")
	assert.Nil(t, body["error"])
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "user", profile["role"])
	assert.Equal(t, "user@northwind.test", body["user"].(map[string]any)["email"])
	require.NotNil(t, env.cookie(DefaultSessionCookieName))

	resp, body := env.doJSON(http.MethodPatch, "/api/profile", map[string]string{"full_name": "X", "company": "Northwind"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := body["profile"].(map[string]any)
	assert.Equal(t, "X", updated["full_name"])
	assert.Equal(t, "Northwind", updated["company"])
	assert.Equal(t, "X", env.profileOf("user@northwind.test").FullName)

	resp, body = env.doJSON(http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, false, status["is_admin"])
	assert.Equal(t, "X", status["profile"].(map[string]any)["full_name"])
	assert.Contains(t, status["permissions"], "profile:edit")
	assert.NotContains(t, status["permissions"], "users:manage")
}

func TestAPI_UpdateProfileValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "user@northwind.test")

	resp, body := env.doJSON(http.MethodPatch, "/api/profile", map[string]string{"full_name": strings.Repeat("x", 201)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "validation", e["code"])
	assert.Equal(t, "full_name", e["field"])
}

func TestAPI_StatusAnonymous(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := body["status"].(map[string]any)
	assert.Equal(t, false, status["authenticated"])
	assert.Equal(t, false, status["loading"])
	assert.Nil(t, status["user"])
	assert.Empty(t, status["permissions"])
}

func TestAPI_LoginErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": "user@northwind.test", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", errorObject(t, body)["code"])

	resp, body = env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": "gone@northwind.test", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "account_deactivated", errorObject(t, body)["code"])
	assert.Equal(t, 0, env.vault.Len())

	resp, body = env.doJSON(http.MethodPost, "/api/auth/login", map[string]any{"email": "user@northwind.test", "password": testPassword, "remember": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorObject(t, body)["code"])
}

func TestAPI_LoginThrottled(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var last *http.Response
	var body map[string]any
	for i := 0; i < 11; i++ {
		last, body = env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": "user@northwind.test", "password": "wrong"})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "rate_limited", errorObject(t, body)["code"])
}

func TestAPI_RequireJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/login",
		strings.NewReader(url.Values{"email": {"user@northwind.test"}, "password": {testPassword}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Nil(t, env.cookie(DefaultSessionCookieName))
}

func TestAPI_Signup(t *testing.T) {
	t.Run("weak password", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		resp, body := env.doJSON(http.MethodPost, "/api/auth/signup", signupJSON("new@northwind.test", "abc1"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		e := errorObject(t, body)
		assert.Equal(t, "weak_password", e["code"])
		assert.Equal(t, []any{"min_length", "uppercase", "special"}, e["rules"])
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		in := signupJSON("new@northwind.test", "Str0ng!pass")
		in["confirm_password"] = "Str0ng!pasS"
		resp, body := env.doJSON(http.MethodPost, "/api/auth/signup", in)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "confirm_password", errorObject(t, body)["field"])
	})

	t.Run("pending confirmation", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		resp, body := env.doJSON(http.MethodPost, "/api/auth/signup", signupJSON("new@northwind.test", "Str0ng!pass"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, true, body["confirmation_required"])
		assert.Equal(t, "Analyst", body["profile"].(map[string]any)["job_title"])
		assert.Nil(t, env.cookie(DefaultSessionCookieName))
		require.Len(t, env.backend.Outbox(), 1)
		assert.Equal(t, "confirmation", env.backend.Outbox()[0].Kind)
	})

	t.Run("auto confirmed", func(t *testing.T) {
		env := newTestEnv(t, envOptions{autoConfirm: true})
		resp, body := env.doJSON(http.MethodPost, "/api/auth/signup", signupJSON("new@northwind.test", "Str0ng!pass"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, false, body["confirmation_required"])
		require.NotNil(t, env.cookie(DefaultSessionCookieName))

		_, body = env.doJSON(http.MethodGet, "/api/auth/status", nil)
		assert.Equal(t, true, body["status"].(map[string]any)["authenticated"])
	})
}

func signupJSON(email, password string) map[string]string {
	return map[string]string{
		"email":            email,
		"password":         password,
		"confirm_password": password,
		"full_name":        "Nia New",
		"role":             "Analyst",
	}
}

func TestAPI_Logout(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "user@northwind.test")

	// A cross-site form post cannot end the session.
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/logout", strings.NewReader("x=1"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	require.NotNil(t, env.cookie(DefaultSessionCookieName))
	assert.Equal(t, 1, env.vault.Len())

	resp, _ = env.doJSON(http.MethodPost, "/api/auth/logout", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, env.cookie(DefaultSessionCookieName))
	assert.Equal(t, 0, env.vault.Len())
}

func TestAPI_ChangePassword(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "user@northwind.test")

	resp, body := env.doJSON(http.MethodPut, "/api/auth/password", map[string]string{"password": "N3w!password", "confirm_password": "other"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "confirm_password", errorObject(t, body)["field"])

	resp, _ = env.doJSON(http.MethodPut, "/api/auth/password", map[string]string{"password": "N3w!password", "confirm_password": "N3w!password"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other := env.withNewClient()
	other.loginWith("user@northwind.test", "N3w!password")
}

func TestAPI_ResetPasswordAndAdoptSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodPost, "/api/auth/reset-password", map[string]string{"email": "pending@northwind.test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["error"])
	tokens := recoveryTokens(t, env)

	resp, body = env.doJSON(http.MethodPost, "/api/auth/session", tokens)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, false, status["profile"].(map[string]any)["email_verified"])
	require.NotNil(t, env.cookie(DefaultSessionCookieName))

	// An unverified account is held at the verification page.
	page := env.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, page.StatusCode)
	assert.Equal(t, "/auth/verify-email", page.Header.Get("Location"))

	resp, body = env.doJSON(http.MethodPatch, "/api/profile", map[string]string{"full_name": "X"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "email_not_confirmed", e["code"])
	assert.Equal(t, "/auth/verify-email", e["redirect_to"])
}

func TestAPI_SetSessionRecordsEmailConfirmation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.backend.ConfirmEmail("pending@northwind.test"))
	issued, err := env.backend.SignInWithPassword(context.Background(),
		domainauth.Credentials{Email: "pending@northwind.test", Password: testPassword})
	require.NoError(t, err)

	resp, body := env.doJSON(http.MethodPost, "/api/auth/session", map[string]string{
		"access_token":  issued.Tokens.AccessToken,
		"refresh_token": issued.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["profile"].(map[string]any)["email_verified"])
	assert.True(t, env.profileOf("pending@northwind.test").EmailVerified)

	page := env.get("/dashboard")
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestAPI_SetSessionRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodPost, "/api/auth/session", map[string]string{"access_token": "a", "refresh_token": "r"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "authentication_required", e["code"])
	assert.Equal(t, "/auth/login", e["redirect_to"])
	assert.Nil(t, env.cookie(DefaultSessionCookieName))
}

func recoveryTokens(t *testing.T, env *testEnv) map[string]string {
	t.Helper()
	outbox := env.backend.Outbox()
	require.NotEmpty(t, outbox)
	link, err := url.Parse(outbox[len(outbox)-1].Link)
	require.NoError(t, err)
	fragment, err := url.ParseQuery(link.Fragment)
	require.NoError(t, err)
	assert.Equal(t, "recovery", fragment.Get("type"))
	return map[string]string{
		"access_token":  fragment.Get("access_token"),
		"refresh_token": fragment.Get("refresh_token"),
	}
}

func TestAPI_DeactivatedMidSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "user@northwind.test")
	env.editProfile("user@northwind.test", func(p *domainauth.Profile) { p.IsActive = false })

	resp, body := env.doJSON(http.MethodPost, "/api/profile/refresh", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "account_deactivated", e["code"])
	assert.Equal(t, "/auth/account-deactivated", e["redirect_to"])
}

func TestAPI_RefreshProfile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "hr@northwind.test")

	// The cached copy is served until a refresh bypasses it.
	p := env.profileOf("hr@northwind.test")
	p.Department = "Talent"
	env.profiles.Put(*p)

	resp, body := env.doJSON(http.MethodPost, "/api/profile/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Talent", body["profile"].(map[string]any)["department"])
}

func TestAPI_Roles(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.doJSON(http.MethodGet, "/api/roles", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roles := body["roles"].([]any)
	require.Len(t, roles, 4)
	admin := roles[0].(map[string]any)
	assert.Equal(t, "admin", admin["role"])
	assert.Equal(t, "Administrator", admin["label"])
	assert.InDelta(t, 3, admin["level"], 0)
	assert.Contains(t, admin["permissions"], "settings:manage")
	viewer := roles[3].(map[string]any)
	assert.Equal(t, "viewer", viewer["role"])
	assert.Equal(t, []any{"content:view", "dashboard:view", "jobs:view"}, viewer["permissions"])
}

func TestAPI_AdminProfiles(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "admin@northwind.test")
	viewer := env.profileOf("viewer@northwind.test")
	admin := env.profileOf("admin@northwind.test")

	resp, body := env.doJSON(http.MethodGet, "/api/admin/profiles?role=viewer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["profiles"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "viewer@northwind.test", list[0].(map[string]any)["email"])

	resp, body = env.doJSON(http.MethodGet, "/api/admin/profiles?active=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["profiles"].([]any), 1)

	resp, body = env.doJSON(http.MethodGet, "/api/admin/profiles?role=contractor", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "role", errorObject(t, body)["field"])

	resp, _ = env.doJSON(http.MethodGet, "/api/admin/profiles?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.doJSON(http.MethodPatch, "/api/admin/profiles/"+viewer.ID, map[string]string{"role": "hr_manager"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hr_manager", body["profile"].(map[string]any)["role"])
	assert.Equal(t, domainauth.RoleHRManager, env.profileOf("viewer@northwind.test").Role)
	assert.Contains(t, env.cache.Invalidated, viewer.ID)

	resp, body = env.doJSON(http.MethodPatch, "/api/admin/profiles/"+admin.ID, map[string]string{"role": "viewer"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorObject(t, body)["code"])
	assert.Equal(t, domainauth.RoleAdmin, env.profileOf("admin@northwind.test").Role)

	resp, body = env.doJSON(http.MethodPatch, "/api/admin/profiles/no-such-user", map[string]any{"is_active": false})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorObject(t, body)["code"])
}

func TestAPI_AdminProfiles_ForbiddenBelowAdmin(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	apiLogin(t, env, "hr@northwind.test")

	resp, body := env.doJSON(http.MethodGet, "/api/admin/profiles", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	e := errorObject(t, body)
	assert.Equal(t, "insufficient_permissions", e["code"])
	assert.Equal(t, "/unauthorized", e["redirect_to"])
}

// slowProfiles delays profile loads once armed.
type slowProfiles struct {
	AuthService
	delay atomic.Int64
}

func (s *slowProfiles) GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	time.Sleep(time.Duration(s.delay.Load()))
	return s.AuthService.GetProfile(ctx, userID)
}

func TestLoadingState(t *testing.T) {
	slow := &slowProfiles{}
	env := newTestEnv(t, envOptions{
		loadTimeout: 20 * time.Millisecond,
		wrap: func(svc AuthService) AuthService {
			slow.AuthService = svc
			return slow
		},
	})
	apiLogin(t, env, "user@northwind.test")
	slow.delay.Store(int64(300 * time.Millisecond))

	resp, body := env.doJSON(http.MethodPost, "/api/profile/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	assert.Equal(t, "auth_loading", errorObject(t, body)["code"])

	page := env.get("/dashboard")
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "2", page.Header.Get("Refresh"))
	assert.Contains(t, readBody(t, page), "Loading your account")

	slow.delay.Store(0)
	assert.Equal(t, http.StatusOK, env.get("/dashboard").StatusCode)
}

func TestRouteMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.get("/dashboard")
	env.doJSON(http.MethodGet, "/api/roles", nil)

	decisions, err := testutil.GatherAndCount(env.registry, "portal_route_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, decisions)
	requests, err := testutil.GatherAndCount(env.registry, "portal_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}
