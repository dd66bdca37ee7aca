package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-consulting/portal/config"
	authmocks "github.com/northwind-consulting/portal/internal/mocks/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	t.Cleanup(func() { slog.SetDefault(discardLogger()) })

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestParseConfig(t *testing.T) {
	t.Setenv("DEV", "true")
	t.Setenv("AUTH_MODE", "mock")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("APP_BASE_URL", "https://portal.example.com")

	cfg, err := ParseConfig()
	require.NoError(t, err)
	assert.Equal(t, config.AuthModeMock, cfg.Auth.Mode)
	assert.Equal(t, slog.LevelDebug, cfg.Observability.Logging.SlogLevel())
	assert.Equal(t, "https://portal.example.com/auth/reset-password", cfg.Auth.ResetRedirectURL)
}

func TestParseConfig_RejectsMockOutsideDev(t *testing.T) {
	t.Setenv("DEV", "false")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("AUTH_MODE", "mock")

	_, err := ParseConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_MODE=mock")
}

func TestPostgresDSN_EscapesCredentials(t *testing.T) {
	dsn := PostgresDSN(config.DBConfig{
		Host: "db", Port: 5432, User: "portal", Password: "p@ss/word", Name: "portal", SSLMode: "require",
	})
	assert.Equal(t, "postgres://portal:p%40ss%2Fword@db:5432/portal?sslmode=require", dsn)
}

func TestNewRedisClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RedisConfig
		target  string
		wantErr bool
	}{
		{name: "direct address", cfg: config.RedisConfig{URI: "localhost:6379"}, target: "localhost:6379"},
		{name: "direct url", cfg: config.RedisConfig{URI: "redis://:secret@cache:6380/0"}, target: "cache:6380"},
		{name: "direct empty", cfg: config.RedisConfig{URI: "  "}, wantErr: true},
		{name: "cluster nodes", cfg: config.RedisConfig{UseCluster: true, ClusterNodes: []string{" a:1 ", "", "b:2"}}, target: "cluster:a:1,b:2"},
		{name: "cluster from url", cfg: config.RedisConfig{UseCluster: true, URI: "rediss://user:pw@seed:7000"}, target: "cluster:seed:7000"},
		{name: "cluster without nodes", cfg: config.RedisConfig{UseCluster: true}, wantErr: true},
		{name: "sentinel", cfg: config.RedisConfig{UseSentinel: true, SentinelNodes: []string{"s:26379"}, SentinelMasterName: "main"}, target: "sentinel:main"},
		{name: "sentinel without nodes", cfg: config.RedisConfig{UseSentinel: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, target, err := NewRedisClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestBuildIdentity(t *testing.T) {
	t.Run("mock seeds one login per account", func(t *testing.T) {
		id, err := BuildIdentity(config.AuthConfig{
			Mode:    config.AuthModeMock,
			DevAuth: config.DevAuthConfig{SeedPassword: "Portal!dev1", SeedDomain: "acme.test"},
		}, discardLogger())
		require.NoError(t, err)
		require.NotNil(t, id.Dev)
		require.NotEmpty(t, id.Accounts)
		for _, a := range id.Accounts {
			_, ok := id.Dev.LookupUser(a.Email)
			assert.True(t, ok, a.Email)
		}
	})

	t.Run("mock needs a password", func(t *testing.T) {
		_, err := BuildIdentity(config.AuthConfig{Mode: config.AuthModeMock}, discardLogger())
		assert.Error(t, err)
	})

	t.Run("gotrue", func(t *testing.T) {
		id, err := BuildIdentity(config.AuthConfig{
			Mode:   config.AuthModeGoTrue,
			GoTrue: config.GoTrueConfig{URL: "https://auth.example.com/auth/v1", AnonKey: "anon", Timeout: time.Second},
		}, discardLogger())
		require.NoError(t, err)
		assert.NotNil(t, id.Backend)
		assert.Nil(t, id.Dev)
	})

	t.Run("gotrue without url", func(t *testing.T) {
		_, err := BuildIdentity(config.AuthConfig{Mode: config.AuthModeGoTrue}, discardLogger())
		assert.Error(t, err)
	})
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		IsDev: true,
		Auth: config.AuthConfig{
			Mode:    config.AuthModeMock,
			DevAuth: config.DevAuthConfig{SeedPassword: "Portal!dev1", SeedDomain: "northwind.test"},
		},
		Observability: config.ObservabilityConfig{
			Metrics: config.ObservabilityMetricsConfig{Enabled: true},
		},
	}
	cfg.Sanitize()
	return cfg
}

// unreachableRedis points at a port nothing listens on; commands fail fast.
func unreachableRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewServices_RequiresDependencies(t *testing.T) {
	_, err := NewServices(nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	_, err = NewServices(&ServiceDeps{Config: cfg})
	assert.ErrorContains(t, err, "redis")

	_, err = NewServices(&ServiceDeps{Config: cfg, Redis: unreachableRedis(t)})
	assert.ErrorContains(t, err, "identity")

	id, err := BuildIdentity(cfg.Auth, discardLogger())
	require.NoError(t, err)
	_, err = NewServices(&ServiceDeps{Config: cfg, Redis: unreachableRedis(t), Identity: id})
	assert.ErrorContains(t, err, "database")
}

func newTestContainer(t *testing.T) (ServiceContainer, *config.AppConfig, *authmocks.MemoryProfileRepository) {
	t.Helper()
	cfg := testConfig(t)
	id, err := BuildIdentity(cfg.Auth, discardLogger())
	require.NoError(t, err)
	profiles := authmocks.NewMemoryProfileRepository()
	svcs, err := NewServices(&ServiceDeps{
		Config:   cfg,
		Redis:    unreachableRedis(t),
		Identity: id,
		Profiles: profiles,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return svcs, cfg, profiles
}

func TestNewServices_WiresContainer(t *testing.T) {
	svcs, _, _ := newTestContainer(t)

	assert.NotNil(t, svcs.Auth)
	assert.NotNil(t, svcs.Sessions)
	assert.NotNil(t, svcs.Events)
	assert.NotNil(t, svcs.MetricsHandler)
	assert.Contains(t, svcs.Health, "redis")
	assert.NotContains(t, svcs.Health, "postgres")

	bg := svcs.Background()
	require.Len(t, bg, 1)
	assert.Equal(t, "auth-event-bus", bg[0].Name)
}

func TestSeedDev(t *testing.T) {
	svcs, _, profiles := newTestContainer(t)
	ctx := context.Background()

	require.NoError(t, SeedDev(ctx, svcs, discardLogger()))
	list, err := profiles.List(ctx, ports.ProfileListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, len(svcs.Identity.Accounts))

	// Outside mock mode there is nothing to seed.
	assert.NoError(t, SeedDev(ctx, ServiceContainer{}, discardLogger()))
}

// productionAssets makes BuildHandler use the embedded templates and static
// files; dev mode reads them relative to the repository root.
func productionAssets(cfg *config.AppConfig) {
	cfg.IsDev = false
}

func TestBuildHandler_ServesOperationalEndpoints(t *testing.T) {
	svcs, cfg, _ := newTestContainer(t)
	productionAssets(cfg)
	handler, err := BuildHandler(cfg, svcs, discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewHTTPServer(cfg.HTTP, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunServicesWithShutdown(ctx, ServiceOrchestrationConfig{
			Server:          server,
			Listener:        ln,
			ShutdownTimeout: time.Second,
			Logger:          discardLogger(),
		})
	}()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"redis":"unavailable"`), string(body))

	resp, err = http.Get(base + "/static/css/portal.css")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/auth/login")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `action="/auth/login"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestBuildHandler_MetricsDisabled(t *testing.T) {
	svcs, cfg, _ := newTestContainer(t)
	cfg.Observability.Metrics.Enabled = false
	productionAssets(cfg)
	handler, err := BuildHandler(cfg, svcs, discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewHTTPServer(cfg.HTTP, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ServeHTTP(ctx, server, ln, time.Second, discardLogger()) }()

	req, err := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuildHandler_RejectsBadTrustedProxy(t *testing.T) {
	svcs, cfg, _ := newTestContainer(t)
	productionAssets(cfg)
	cfg.HTTP.TrustedProxies = []string{"10.0.0.0/8", "ingress.local"}

	_, err := BuildHandler(cfg, svcs, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingress.local")
}

func TestRunServicesWithShutdown_BackgroundFailureStopsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewHTTPServer(config.HTTPConfig{}, http.NotFoundHandler())

	boom := errors.New("subscription lost")
	err = RunServicesWithShutdown(context.Background(), ServiceOrchestrationConfig{
		Server:   server,
		Listener: ln,
		Background: []BackgroundService{{
			Name: "events",
			Run:  func(context.Context) error { return boom },
		}},
		Logger: discardLogger(),
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "events")
}

func TestRunServicesWithShutdown_RequiresServer(t *testing.T) {
	assert.Error(t, RunServicesWithShutdown(context.Background(), ServiceOrchestrationConfig{}))
}
