package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener
// (main or management).
type ListenerConfig struct {
	Port              int
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls auth behavior: "prod" (default) or "testing".
	// In testing mode a bearer token is accepted as the user ID directly.
	Mode string

	// Database
	DBURL         string
	DatastoreType string // "postgres" or "sqlite"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Profile cache backend type
	CacheType string // "memory", "redis", or "none"
	RedisURL  string

	// Profile service (external identity collaborator)
	ProfileServiceURL   string
	ProfileFetchTimeout time.Duration
	ProfileCacheTTL     time.Duration
	// How long cache backends retain entries past the logical TTL so
	// stale values stay available for fallback.
	ProfileCacheRetention time.Duration

	// Auth
	AuthJWTSecret string

	// Unread counter repair sweep; zero disables it.
	UnreadRepairInterval time.Duration

	// Server
	Listener                  ListenerConfig
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	CORSEnabled               bool
	CORSOrigins               string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// MetricsLabels is a comma-separated list of key=value pairs added
	// as constant labels to all Prometheus metrics.
	MetricsLabels string

	// Realtime
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	WSSendBufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "memory",
		ProfileFetchTimeout:     5 * time.Second,
		ProfileCacheTTL:         24 * time.Hour,
		ProfileCacheRetention:   7 * 24 * time.Hour,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:      1 * 1024 * 1024,
		DrainTimeout:     30,
		WSWriteTimeout:   10 * time.Second,
		WSPingInterval:   30 * time.Second,
		WSSendBufferSize: 64,
	}
}
