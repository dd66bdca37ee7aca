package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/northwind-consulting/portal/internal/adapters/devauth"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/guard"
	authmocks "github.com/northwind-consulting/portal/internal/mocks/auth"
	"github.com/northwind-consulting/portal/internal/observability/metrics"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/service"
	"github.com/northwind-consulting/portal/internal/session"
)

const testPassword = "Portal!dev1"

// seedAccount is an identity plus the profile row that goes with it.
type seedAccount struct {
	email       string
	name        string
	role        domainauth.Role
	inactive    bool
	unconfirmed bool
}

var testAccounts = []seedAccount{
	{email: "admin@northwind.test", name: "Ada Admin", role: domainauth.RoleAdmin},
	{email: "hr@northwind.test", name: "Hank Hr", role: domainauth.RoleHRManager},
	{email: "user@northwind.test", name: "Uma User", role: domainauth.RoleUser},
	{email: "viewer@northwind.test", name: "Vic Viewer", role: domainauth.RoleViewer},
	{email: "gone@northwind.test", name: "Gus Gone", role: domainauth.RoleUser, inactive: true},
	{email: "pending@northwind.test", name: "Pat Pending", role: domainauth.RoleUser, unconfirmed: true},
}

type envOptions struct {
	autoConfirm bool
	loadTimeout time.Duration
	health      map[string]HealthChecker
	// wrap lets a test intercept service calls.
	wrap func(AuthService) AuthService
}

// testEnv runs the full router against the in-memory identity backend.
type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	client   *http.Client
	backend  *devauth.Backend
	vault    *authmocks.MemorySessionVault
	profiles *authmocks.MemoryProfileRepository
	cache    *authmocks.MemoryProfileCache
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seed := make([]devauth.SeedUser, 0, len(testAccounts))
	for _, a := range testAccounts {
		seed = append(seed, devauth.SeedUser{Email: a.email, Password: testPassword, FullName: a.name, Unconfirmed: a.unconfirmed})
	}
	backend, err := devauth.NewBackend(devauth.Config{
		AutoConfirm: opts.autoConfirm,
		BcryptCost:  bcrypt.MinCost,
		Seed:        seed,
		Logger:      logger,
	})
	require.NoError(t, err)

	env := &testEnv{
		t:        t,
		backend:  backend,
		vault:    authmocks.NewMemorySessionVault(),
		profiles: authmocks.NewMemoryProfileRepository(),
		cache:    authmocks.NewMemoryProfileCache(),
		registry: prometheus.NewRegistry(),
	}
	for _, a := range testAccounts {
		user, ok := backend.LookupUser(a.email)
		require.True(t, ok)
		env.profiles.Put(domainauth.Profile{
			ID:            user.ID,
			Email:         a.email,
			Role:          a.role,
			IsActive:      !a.inactive,
			EmailVerified: !a.unconfirmed,
			FullName:      a.name,
		})
	}

	m := metrics.New(env.registry)
	var svc AuthService = service.NewAuthService(service.AuthServiceOptions{
		Profiles:         env.profiles,
		Cache:            env.cache,
		Limiter:          &authmocks.CountingRateLimiter{},
		Metrics:          m,
		Logger:           logger,
		EmailRedirectURL: "http://portal.test/auth/verify-email",
		ResetRedirectURL: "http://portal.test/auth/reset-password",
	})
	if opts.wrap != nil {
		svc = opts.wrap(svc)
	}
	factory := session.NewFactory(session.FactoryOptions{Backend: backend, Vault: env.vault, Logger: logger})

	loadTimeout := opts.loadTimeout
	if loadTimeout == 0 {
		loadTimeout = 2 * time.Second
	}
	router, err := NewRouter(RouterServices{
		Auth:        svc,
		Sessions:    func(id string) ports.SessionClient { return factory.ForSession(id) },
		Cookie:      SessionCookieConfig{Name: DefaultSessionCookieName, TTL: time.Hour},
		LoadTimeout: loadTimeout,
		Metrics:     m,
		Health:      opts.health,
		TemplateFS:  os.DirFS(TemplatePathFromTest),
		Logger:      logger,
	})
	require.NoError(t, err)

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	env.client = env.newClient()
	return env
}

// newClient returns a client with its own cookie jar that does not follow redirects.
func (e *testEnv) newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 10 * time.Second,
	}
}

func (e *testEnv) do(req *http.Request) *http.Response {
	e.t.Helper()
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(path string) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	require.NoError(e.t, err)
	req.Header.Set("Accept", "text/html")
	return e.do(req)
}

// postForm submits a browser form, adding the CSRF token.
func (e *testEnv) postForm(path string, form url.Values) *http.Response {
	e.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", e.csrfToken())
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")
	return e.do(req)
}

// doJSON calls the API and decodes the response object.
func (e *testEnv) doJSON(method, path string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp := e.do(req)

	var out map[string]any
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

// csrfToken returns the jar's CSRF cookie, fetching a page first if needed.
func (e *testEnv) csrfToken() string {
	e.t.Helper()
	if c := e.cookie(DefaultCSRFCookieName); c != nil {
		return c.Value
	}
	e.get(guard.LoginPath)
	c := e.cookie(DefaultCSRFCookieName)
	require.NotNil(e.t, c, "csrf cookie not issued")
	return c.Value
}

func (e *testEnv) cookie(name string) *http.Cookie {
	u, err := url.Parse(e.server.URL)
	require.NoError(e.t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// withNewClient returns the same server seen by a second visitor.
func (e *testEnv) withNewClient() *testEnv {
	cp := *e
	cp.client = e.newClient()
	return &cp
}

// login signs in through the browser form and expects the landing redirect.
func (e *testEnv) login(email string) {
	e.t.Helper()
	e.loginWith(email, testPassword)
}

func (e *testEnv) loginWith(email, password string) {
	e.t.Helper()
	resp := e.postForm("/auth/login", url.Values{"email": {email}, "password": {password}})
	require.Equal(e.t, http.StatusSeeOther, resp.StatusCode, "login %s", email)
	require.NotNil(e.t, e.cookie(DefaultSessionCookieName))
}

// profileOf returns the stored profile of a seeded account.
func (e *testEnv) profileOf(email string) *domainauth.Profile {
	e.t.Helper()
	user, ok := e.backend.LookupUser(email)
	require.True(e.t, ok)
	p, err := e.profiles.GetByID(context.Background(), user.ID)
	require.NoError(e.t, err)
	return p
}

// editProfile changes a stored profile behind the service's back and drops
// the cached copy.
func (e *testEnv) editProfile(email string, fn func(*domainauth.Profile)) {
	e.t.Helper()
	p := e.profileOf(email)
	fn(p)
	e.profiles.Put(*p)
	require.NoError(e.t, e.cache.Invalidate(context.Background(), p.ID))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func errorObject(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	obj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected an error object, got %v", body["error"])
	return obj
}
