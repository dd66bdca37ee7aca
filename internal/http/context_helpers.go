package httpx

import (
	"context"

	"github.com/northwind-consulting/portal/internal/authstate"
)

// providerKey is an unexported context key type to avoid collisions across packages.
type providerKey struct{}

// SetProviderInContext returns a child context that carries the request's auth provider.
func SetProviderInContext(ctx context.Context, p *authstate.Provider) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, providerKey{}, p)
}

// GetProviderFromContext returns the auth provider mounted for the request.
func GetProviderFromContext(ctx context.Context) (*authstate.Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(*authstate.Provider)
	return p, ok && p != nil
}

// AuthStateFromContext returns the current auth state. Without a provider the
// visitor is treated as signed out.
func AuthStateFromContext(ctx context.Context) authstate.State {
	if p, ok := GetProviderFromContext(ctx); ok {
		return p.Snapshot()
	}
	return authstate.State{}
}

// sessionControlKey carries the cookie writer so handlers can drop the cookie.
type sessionControlKey struct{}

func setSessionControl(ctx context.Context, w *sessionCookieWriter) context.Context {
	return context.WithValue(ctx, sessionControlKey{}, w)
}

// forgetSession expires the session cookie when the response is written.
func forgetSession(ctx context.Context) {
	if w, ok := ctx.Value(sessionControlKey{}).(*sessionCookieWriter); ok && w != nil {
		w.expire()
	}
}
