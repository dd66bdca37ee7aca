package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/northwind-consulting/portal/internal/authstate"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/observability/metrics"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/service"
)

// AuthService is what the HTTP layer needs from service.AuthService.
type AuthService interface {
	authstate.AuthService
	AdminUpdateProfile(ctx context.Context, userID string, upd domainauth.AdminProfileUpdate) (*domainauth.Profile, error)
	ListProfiles(ctx context.Context, opts ports.ProfileListOptions) ([]*domainauth.Profile, error)
}

var _ AuthService = (*service.AuthService)(nil)

// HandlersOptions groups dependencies for Handlers.
type HandlersOptions struct {
	Service  AuthService
	Renderer *TemplateRenderer
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger     // optional
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies TrustedProxies
}

// Handlers serves the browser pages and the JSON API.
type Handlers struct {
	svc      AuthService
	renderer *TemplateRenderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	proxies  TrustedProxies
}

// NewHandlers constructs Handlers.
func NewHandlers(opts HandlersOptions) *Handlers {
	if opts.Service == nil {
		panic("AuthService is required")
	}
	if opts.Renderer == nil {
		panic("TemplateRenderer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		svc:      opts.Service,
		renderer: opts.Renderer,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "http"),
		proxies:  opts.TrustedProxies,
	}
}

// render fills the per-request fields of data and writes the page.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, data PageData) {
	data.Auth = AuthStateFromContext(r.Context())
	data.CSRFToken = GetCSRFToken(r)
	if err := h.renderer.Render(w, status, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// renderError renders the generic error page, or a JSON error for API calls.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if !IsBrowserRequest(r) {
		WriteJSON(w, status, map[string]any{"error": APIError{Code: codeForStatus(status), Message: message}})
		return
	}
	h.render(w, r, status, PageData{Page: PageError, Title: http.StatusText(status), Error: message})
}

// provider returns the request's auth provider. WithAuthState always mounts
// one; its absence is a wiring bug reported as a 500.
func (h *Handlers) provider(w http.ResponseWriter, r *http.Request) (*authstate.Provider, bool) {
	p, ok := GetProviderFromContext(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "auth provider missing from request context", "path", r.URL.Path)
		h.renderError(w, r, http.StatusInternalServerError, "An unexpected error occurred. Please try again")
	}
	return p, ok
}

func (h *Handlers) deviceInfo(r *http.Request) domainauth.DeviceInfo {
	return domainauth.DeviceInfo{UserAgent: r.UserAgent(), IP: h.proxies.clientIP(r)}
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case http.StatusForbidden:
		return ErrCodeInsufficientPermission
	default:
		return apperrors.ErrCodeInternal
	}
}
