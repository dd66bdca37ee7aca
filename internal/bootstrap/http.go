package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/northwind-consulting/portal/config"
	httpx "github.com/northwind-consulting/portal/internal/http"
	"github.com/northwind-consulting/portal/internal/ports"
)

// BuildHandler wires the router from the service container.
func BuildHandler(cfg *config.AppConfig, svcs ServiceContainer, logger *slog.Logger) (http.Handler, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if svcs.Auth == nil || svcs.Sessions == nil {
		return nil, errors.New("auth service and session factory are required")
	}

	proxies, err := httpx.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return nil, err
	}

	routerServices := httpx.RouterServices{
		Auth:     svcs.Auth,
		Sessions: func(id string) ports.SessionClient { return svcs.Sessions.ForSession(id) },
		Cookie: httpx.SessionCookieConfig{
			Name:   cfg.Session.CookieName,
			Domain: cfg.HTTP.CookieDomain,
			TTL:    cfg.Session.TTL,
		},
		LoadTimeout: cfg.Session.LoadTimeout,
		Metrics:     svcs.Metrics,
		Health:      svcs.Health,
		IsDev:       cfg.IsDev,
		Logger:      logger,

		TrustedProxies: proxies,
	}
	if cfg.Observability.Metrics.IsEnabled() {
		routerServices.MetricsHandler = svcs.MetricsHandler
		routerServices.MetricsPath = cfg.Observability.Metrics.Path
	}

	handler, err := httpx.NewRouter(routerServices)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	return handler, nil
}

const defaultShutdownTimeout = 15 * time.Second

// NewHTTPServer builds the server with timeouts from cfg.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ServeHTTP runs server until ctx is done, then drains in-flight requests
// for at most shutdownTimeout. A nil listener listens on server.Addr.
func ServeHTTP(ctx context.Context, server *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", server.Addr, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting HTTP server", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
