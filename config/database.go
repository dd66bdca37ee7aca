package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"portal"`
	Password string `env:"PASSWORD"                envDefault:"portal"`
	Name     string `env:"NAME"                    envDefault:"portal"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// SessionConfig controls browser sessions and the Redis keys behind them.
type SessionConfig struct {
	// CookieName carries the opaque session id.
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"session_id"`
	// TTL bounds how long an idle session survives; refreshes extend it.
	TTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	// RefreshSkew refreshes access tokens this long before they expire.
	RefreshSkew time.Duration `env:"SESSION_REFRESH_SKEW" envDefault:"30s"`
	// LoadTimeout caps how long a request waits for the auth state to settle.
	LoadTimeout time.Duration `env:"SESSION_LOAD_TIMEOUT" envDefault:"5s"`
	// EventChannel is the Redis pub/sub channel for session change events.
	EventChannel string `env:"SESSION_EVENT_CHANNEL" envDefault:"auth-events"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.CookieName == "" {
		s.CookieName = "session_id"
	}
	if s.TTL < 5*time.Minute {
		s.TTL = 5 * time.Minute
	}
	if s.RefreshSkew < 0 {
		s.RefreshSkew = 0
	}
	if s.LoadTimeout <= 0 {
		s.LoadTimeout = 5 * time.Second
	}
	if s.EventChannel == "" {
		s.EventChannel = "auth-events"
	}
}

// CacheConfig contains profile cache configuration (Redis-based).
type CacheConfig struct {
	// ProfileTTL is how long a cached profile may be served. Zero disables the cache.
	ProfileTTL time.Duration `env:"CACHE_PROFILE_TTL" envDefault:"5m"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.ProfileTTL < 0 {
		c.ProfileTTL = 0
	}
}
