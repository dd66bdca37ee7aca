package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/northwind-consulting/portal/config"
	redisadapter "github.com/northwind-consulting/portal/internal/adapters/redis"
	"github.com/northwind-consulting/portal/internal/data"
	httpx "github.com/northwind-consulting/portal/internal/http"
	"github.com/northwind-consulting/portal/internal/observability/metrics"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/service"
	"github.com/northwind-consulting/portal/internal/session"
)

// ServiceContainer holds the wired application services.
type ServiceContainer struct {
	Auth     *service.AuthService
	Sessions *session.Factory
	Profiles ports.ProfileRepository
	Events   *redisadapter.EventBus
	Identity Identity

	Metrics         *metrics.Metrics
	MetricsHandler  http.Handler
	MetricsRegistry *prometheus.Registry
	Health          map[string]httpx.HealthChecker
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config   *config.AppConfig
	DB       *sql.DB
	Redis    redis.UniversalClient
	Identity Identity
	// Profiles overrides the Postgres repository (tests).
	Profiles ports.ProfileRepository
	Logger   *slog.Logger
}

// NewServices wires repositories, Redis adapters and the auth service.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.Redis == nil {
		return ServiceContainer{}, errors.New("redis client is required")
	}
	if deps.Identity.Backend == nil {
		return ServiceContainer{}, errors.New("identity backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	profiles := deps.Profiles
	if profiles == nil {
		if deps.DB == nil {
			return ServiceContainer{}, errors.New("database is required")
		}
		profiles = data.NewProfileRepo(deps.DB)
	}

	registry, m := buildMetrics()

	var cache ports.ProfileCache
	if cfg.Cache.ProfileTTL > 0 {
		cache = redisadapter.NewProfileCache(deps.Redis, cfg.Cache.ProfileTTL)
	}

	auth := service.NewAuthService(service.AuthServiceOptions{
		Profiles:         profiles,
		Cache:            cache,
		Limiter:          redisadapter.NewRateLimiter(deps.Redis),
		Metrics:          m,
		Logger:           logger,
		EmailRedirectURL: cfg.Auth.EmailRedirectURL,
		ResetRedirectURL: cfg.Auth.ResetRedirectURL,
		LoginAttempts:    cfg.Auth.LoginAttempts,
		LoginWindow:      cfg.Auth.LoginWindow,
	})

	bus := redisadapter.NewEventBus(deps.Redis, redisadapter.EventBusOptions{
		Channel: cfg.Session.EventChannel,
		Logger:  logger,
	})
	sessions := session.NewFactory(session.FactoryOptions{
		Backend: deps.Identity.Backend,
		Vault: redisadapter.NewSessionVault(deps.Redis, redisadapter.SessionVaultOptions{
			TTL: cfg.Session.TTL,
		}),
		Bus:         bus,
		Logger:      logger,
		RefreshSkew: cfg.Session.RefreshSkew,
	})

	return ServiceContainer{
		Auth:            auth,
		Sessions:        sessions,
		Profiles:        profiles,
		Events:          bus,
		Identity:        deps.Identity,
		Metrics:         m,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		MetricsRegistry: registry,
		Health:          healthChecks(deps.DB, deps.Redis),
	}, nil
}

func buildMetrics() (*prometheus.Registry, *metrics.Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.New(registry)
}

func healthChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.HealthChecker {
	checks := map[string]httpx.HealthChecker{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
