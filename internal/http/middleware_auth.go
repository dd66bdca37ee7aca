package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/northwind-consulting/portal/internal/authstate"
	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/guard"
	"github.com/northwind-consulting/portal/internal/ports"
)

// API error codes for route gating.
const (
	ErrCodeAuthRequired           apperrors.ErrorCode = "authentication_required"
	ErrCodeInsufficientPermission apperrors.ErrorCode = "insufficient_permissions"
	ErrCodeAuthLoading            apperrors.ErrorCode = "auth_loading"
)

const defaultLoadTimeout = 5 * time.Second

// ClientFactory returns the session client for a browser's session id. An
// empty id yields a client without a stored session.
type ClientFactory func(sessionID string) ports.SessionClient

// SessionCookieConfig describes the session cookie.
type SessionCookieConfig struct {
	Name   string
	Domain string
	TTL    time.Duration
}

// AuthStateConfig configures WithAuthState.
type AuthStateConfig struct {
	Sessions ClientFactory
	Service  authstate.AuthService
	Cookie   SessionCookieConfig
	// LoadTimeout caps how long a request waits for the profile to load
	// before it is served in the loading state.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// WithAuthState mounts an auth provider for each request. The provider is
// bound to the session named by the cookie, is settled before the handler
// runs, and is closed when the handler returns. When the session id changes
// the new cookie is sent with the response headers.
func WithAuthState(cfg AuthStateConfig) func(http.Handler) http.Handler {
	if cfg.Sessions == nil {
		panic("ClientFactory is required")
	}
	if cfg.Service == nil {
		panic("AuthService is required")
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = DefaultSessionCookieName
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var initial string
			if c, err := r.Cookie(cfg.Cookie.Name); err == nil {
				initial = c.Value
			}
			client := cfg.Sessions(initial)
			provider := authstate.New(authstate.Options{Service: cfg.Service, Client: client, Logger: logger})
			defer provider.Close()

			provider.Start(r.Context())
			waitCtx, cancel := context.WithTimeout(r.Context(), cfg.LoadTimeout)
			if err := provider.Wait(waitCtx); err != nil {
				logger.WarnContext(r.Context(), "auth state not settled", "path", r.URL.Path, "error", err)
			}
			cancel()

			sw := &sessionCookieWriter{
				ResponseWriter: w,
				req:            r,
				provider:       provider,
				initial:        initial,
				cookie:         cfg.Cookie,
			}
			ctx := SetProviderInContext(r.Context(), provider)
			ctx = setSessionControl(ctx, sw)
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.commit()
		})
	}
}

// sessionCookieWriter issues or expires the session cookie right before the
// response headers are written.
type sessionCookieWriter struct {
	http.ResponseWriter
	req      *http.Request
	provider *authstate.Provider
	initial  string
	cookie   SessionCookieConfig

	committed bool
	expired   bool
}

func (w *sessionCookieWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionCookieWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionCookieWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *sessionCookieWriter) expire() { w.expired = true }

func (w *sessionCookieWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	if w.expired {
		if w.initial != "" {
			http.SetCookie(w.ResponseWriter, w.newCookie("", -1))
		}
		return
	}
	id := w.provider.Client().SessionID()
	if id == w.initial || w.provider.Snapshot().User == nil {
		return
	}
	http.SetCookie(w.ResponseWriter, w.newCookie(id, int(w.cookie.TTL.Seconds())))
}

func (w *sessionCookieWriter) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     w.cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   w.cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(w.req),
		// Lax keeps the session across top-level navigations from email links.
		SameSite: http.SameSiteLaxMode,
	}
}

// ProtectRoute gates next on the request's auth state. Browser requests get
// 303 redirects, the inline Access Denied page, or the loading page; API
// requests get JSON errors carrying redirect_to.
func (h *Handlers) ProtectRoute(req guard.RouteRequirements) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := AuthStateFromContext(r.Context())
			d := guard.EvaluateRoute(state, r.URL.RequestURI(), req)
			h.metrics.RouteDecision(string(d.Outcome))

			if d.Outcome == guard.OutcomeRender {
				next.ServeHTTP(w, r)
				return
			}
			h.logger.DebugContext(r.Context(), "route gated",
				"path", r.URL.Path,
				"outcome", d.Outcome,
				"reason", d.Reason,
			)
			if IsBrowserRequest(r) {
				h.gateBrowser(w, r, state, d)
				return
			}
			gateAPI(w, d)
		})
	}
}

func (h *Handlers) gateBrowser(w http.ResponseWriter, r *http.Request, state authstate.State, d guard.Decision) {
	switch d.Outcome {
	case guard.OutcomeLoading:
		w.Header().Set("Refresh", strconv.Itoa(loadingRetrySeconds))
		h.render(w, r, http.StatusOK, PageData{Page: PageLoading, Title: "Loading"})
	case guard.OutcomeDenied:
		h.render(w, r, http.StatusForbidden, PageData{Page: PageAccessDenied, Title: "Access Denied", Reason: d.Reason, Auth: state})
	default:
		http.Redirect(w, r, d.Location, http.StatusSeeOther)
	}
}

func gateAPI(w http.ResponseWriter, d guard.Decision) {
	switch {
	case d.Outcome == guard.OutcomeLoading:
		w.Header().Set("Retry-After", strconv.Itoa(loadingRetrySeconds))
		writeAPIRedirect(w, http.StatusServiceUnavailable, ErrCodeAuthLoading, "Your session is still loading. Please retry", "")
	case d.Reason == guard.ReasonUnauthenticated:
		writeAPIRedirect(w, http.StatusUnauthorized, ErrCodeAuthRequired, "Authentication required", d.Location)
	case d.Reason == guard.ReasonDeactivated:
		writeAPIRedirect(w, http.StatusForbidden, apperrors.ErrCodeAccountDeactivated,
			"Your account has been deactivated. Please contact support", d.Location)
	case d.Reason == guard.ReasonUnverified:
		writeAPIRedirect(w, http.StatusForbidden, apperrors.ErrCodeEmailNotConfirmed,
			"Please verify your email address before continuing", d.Location)
	default:
		writeAPIRedirect(w, http.StatusForbidden, ErrCodeInsufficientPermission,
			"You don't have permission to access this resource", d.Location)
	}
}
