package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
	"github.com/northwind-consulting/portal/internal/testutil"
)

func testSession() domainauth.Session {
	return domainauth.Session{
		Tokens:    domainauth.TokenPair{AccessToken: "access", RefreshToken: "refresh"},
		TokenType: "bearer",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		User:      domainauth.User{ID: "user-123", Email: "user@example.com"},
	}
}

func TestSessionVault_SaveGetDelete(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	vault := NewSessionVault(client, SessionVaultOptions{})
	ctx := context.Background()

	require.NoError(t, vault.Save(ctx, "sid-1", testSession()))

	got, err := vault.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.Tokens.AccessToken)
	assert.Equal(t, "user-123", got.User.ID)

	ttl := client.TTL(ctx, "session:sid-1").Val()
	assert.Greater(t, ttl, 24*time.Hour)

	require.NoError(t, vault.Delete(ctx, "sid-1"))
	_, err = vault.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestSessionVault_EmptyID(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	vault := NewSessionVault(client, SessionVaultOptions{Prefix: "test-prefix:", TTL: time.Minute})
	ctx := context.Background()

	err := vault.Save(ctx, "", testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session ID cannot be empty")

	_, err = vault.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, vault.Delete(ctx, ""))
}

func TestProfileCache_RoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewProfileCache(client, time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	p := &domainauth.Profile{ID: "u1", Role: domainauth.RoleHRManager, IsActive: true, FullName: "Ada"}
	require.NoError(t, cache.Set(ctx, p))

	got, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domainauth.RoleHRManager, got.Role)

	require.NoError(t, cache.Invalidate(ctx, "u1"))
	_, ok, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProfileCache_CorruptEntryIsMiss(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewProfileCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "profile:bad", "{not json", time.Minute).Err())
	_, ok, err := cache.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, client.Exists(ctx, "profile:bad").Val())
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	for i := range 3 {
		ok, err := limiter.Allow(ctx, "login:ip:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, err := limiter.Allow(ctx, "login:ip:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "login:ip:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys have their own window")

	ttl := client.TTL(ctx, "ratelimit:login:ip:1.2.3.4").Val()
	assert.Greater(t, ttl, time.Duration(0))
}

func TestEventBus_RoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	bus := NewEventBus(client, EventBusOptions{Channel: "auth-events-test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	var (
		mu  sync.Mutex
		got []ports.AuthEvent
	)
	unsub := bus.Subscribe("sid", func(e ports.AuthEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer unsub()

	// Wait until the subscriber is registered with Redis.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "auth-events-test").Result()
		return err == nil && n["auth-events-test"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, ports.AuthEvent{SessionID: "other", Event: domainauth.EventSignedIn}))
	require.NoError(t, bus.Publish(ctx, ports.AuthEvent{
		SessionID: "sid",
		Event:     domainauth.EventUserUpdated,
		User:      &domainauth.User{ID: "u-1", Email: "hr@northwind.test"},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domainauth.EventUserUpdated, got[0].Event)
	require.NotNil(t, got[0].User)
	assert.Equal(t, "u-1", got[0].User.ID)

	cancel()
	assert.NoError(t, <-done)
}
