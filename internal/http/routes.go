package httpx

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	portal "github.com/northwind-consulting/portal"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/guard"
	"github.com/northwind-consulting/portal/internal/observability/metrics"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth     AuthService
	Sessions ClientFactory

	Cookie      SessionCookieConfig
	LoadTimeout time.Duration

	Metrics        *metrics.Metrics // optional
	MetricsHandler http.Handler     // optional; serves MetricsPath when set
	MetricsPath    string
	Health         map[string]HealthChecker // optional

	// TrustedProxies may set X-Forwarded-For.
	TrustedProxies TrustedProxies

	// IsDev loads templates and static files from disk for hot reloading.
	IsDev bool
	// TemplateFS overrides the template source (tests).
	TemplateFS fs.FS
	Logger     *slog.Logger
}

// NewRouter wires middleware, pages and the JSON API.
func NewRouter(services RouterServices) (http.Handler, error) {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templateFS, staticFS, err := assetFS(services)
	if err != nil {
		return nil, err
	}
	renderer, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: templateFS, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	h := NewHandlers(HandlersOptions{
		Service:  services.Auth,
		Renderer: renderer,
		Metrics:  services.Metrics,
		Logger:   logger,

		TrustedProxies: services.TrustedProxies,
	})

	app := http.NewServeMux()
	registerAuthPages(app, h)
	registerAppPages(app, h)
	registerAPIRoutes(app, h)
	app.HandleFunc("/", h.NotFound)

	withState := WithAuthState(AuthStateConfig{
		Sessions:    services.Sessions,
		Service:     services.Auth,
		Cookie:      services.Cookie,
		LoadTimeout: services.LoadTimeout,
		Logger:      logger,
	})
	csrf := CSRFProtection(CSRFConfig{
		CookieDomain: services.Cookie.Domain,
		Skip:         func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/api/") },
		OnFailure: func(w http.ResponseWriter, r *http.Request) {
			h.renderError(w, r, http.StatusForbidden, "Your form expired. Please reload the page and try again.")
		},
	})
	appHandler := chain(Metrics(services.Metrics)(app),
		withState,
		csrf,
		BrowserDetection(),
		SecurityHeaders(),
	)

	root := http.NewServeMux()
	health := healthHandler(logger, services.Health)
	root.Handle("GET /healthz", health)
	root.Handle("HEAD /healthz", health)
	if services.MetricsHandler != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		root.Handle("GET "+path, services.MetricsHandler)
	}
	root.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))
	root.Handle("/", appHandler)

	return chain(root, Recover(logger), Logging(logger)), nil
}

func registerAuthPages(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("GET /auth/login", h.LoginPage)
	mux.HandleFunc("POST /auth/login", h.LoginSubmit)
	mux.HandleFunc("GET /auth/signup", h.SignupPage)
	mux.HandleFunc("POST /auth/signup", h.SignupSubmit)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/forgot-password", h.ForgotPasswordPage)
	mux.HandleFunc("POST /auth/forgot-password", h.ForgotPasswordSubmit)
	mux.HandleFunc("GET /auth/reset-password", h.ResetPasswordPage)
	mux.HandleFunc("POST /auth/reset-password", h.ResetPasswordSubmit)
	mux.HandleFunc("GET /auth/verify-email", h.VerifyEmailPage)
	mux.HandleFunc("POST /auth/verify-email", h.VerifyEmailSubmit)
	mux.HandleFunc("GET /auth/account-deactivated", h.AccountDeactivatedPage)
	mux.HandleFunc("GET /unauthorized", h.UnauthorizedPage)
}

func registerAppPages(mux *http.ServeMux, h *Handlers) {
	signedIn := h.ProtectRoute(guard.RouteRequirements{})
	editor := h.ProtectRoute(guard.RouteRequirements{RequiredPermission: domainauth.PermProfileEdit})

	mux.HandleFunc("GET /{$}", h.Home)
	mux.Handle("GET /dashboard", signedIn(http.HandlerFunc(h.Dashboard)))
	mux.Handle("GET /profile", editor(http.HandlerFunc(h.ProfilePage)))
	mux.Handle("POST /profile", editor(http.HandlerFunc(h.ProfileSubmit)))
	mux.Handle("GET /hr/jobs", h.ProtectRoute(guard.RouteRequirements{
		RequiredPermission: domainauth.PermJobsView,
	})(http.HandlerFunc(h.HRJobs)))
	mux.Handle("GET /admin/users", h.ProtectRoute(guard.RouteRequirements{
		RequiredRole:     domainauth.RoleAdmin,
		ShowUnauthorized: true,
	})(http.HandlerFunc(h.AdminUsers)))
}

func registerAPIRoutes(mux *http.ServeMux, h *Handlers) {
	jsonBody := RequireJSON()
	signedIn := h.ProtectRoute(guard.RouteRequirements{})
	editor := h.ProtectRoute(guard.RouteRequirements{RequiredPermission: domainauth.PermProfileEdit})
	userAdmin := h.ProtectRoute(guard.RouteRequirements{RequiredPermission: domainauth.PermUsersManage})

	mux.Handle("POST /api/auth/login", jsonBody(http.HandlerFunc(h.APILogin)))
	mux.Handle("POST /api/auth/signup", jsonBody(http.HandlerFunc(h.APISignup)))
	mux.Handle("POST /api/auth/logout", jsonBody(http.HandlerFunc(h.APILogout)))
	mux.Handle("POST /api/auth/reset-password", jsonBody(http.HandlerFunc(h.APIResetPassword)))
	mux.Handle("POST /api/auth/session", jsonBody(http.HandlerFunc(h.APISetSession)))
	mux.Handle("PUT /api/auth/password", jsonBody(signedIn(http.HandlerFunc(h.APIChangePassword))))
	mux.HandleFunc("GET /api/auth/status", h.APIStatus)

	mux.Handle("PATCH /api/profile", jsonBody(editor(http.HandlerFunc(h.APIUpdateProfile))))
	mux.Handle("POST /api/profile/refresh", signedIn(http.HandlerFunc(h.APIRefreshProfile)))
	mux.HandleFunc("GET /api/roles", h.APIRoles)

	mux.Handle("GET /api/admin/profiles", userAdmin(http.HandlerFunc(h.APIListProfiles)))
	mux.Handle("PATCH /api/admin/profiles/{id}", jsonBody(userAdmin(http.HandlerFunc(h.APIAdminUpdateProfile))))
}

// chain applies middleware so that the first one listed runs innermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range mws {
		h = mw(h)
	}
	return h
}

// assetFS picks embedded assets in production and the working tree in dev mode.
func assetFS(services RouterServices) (fs.FS, fs.FS, error) {
	if services.IsDev {
		templates := services.TemplateFS
		if templates == nil {
			templates = os.DirFS(TemplatePathFromRoot)
		}
		return templates, os.DirFS("web/static"), nil
	}
	static, err := fs.Sub(portal.StaticFS, "web/static")
	if err != nil {
		return nil, nil, fmt.Errorf("static assets: %w", err)
	}
	templates := services.TemplateFS
	if templates == nil {
		templates, err = fs.Sub(portal.TemplateFS, TemplatePathFromRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("templates: %w", err)
		}
	}
	return templates, static, nil
}
