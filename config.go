package authgate

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the complete engine configuration.
//
// Config values are copied by [Builder.WithConfig]; mutating the original
// after Build has no effect.
type Config struct {
	Provider  ProviderConfig
	Session   SessionConfig
	Routes    RoutesConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	// EventBuffer is the per-store buffer of provider state-change events.
	EventBuffer int
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig points the engine at the hosted auth provider.
type ProviderConfig struct {
	URL      string
	AuthPath string
	APIKey   string
	// Timeout bounds every provider call, including the shared
	// initialization fetch.
	Timeout time.Duration
	// RefreshMargin is how long before access-token expiry a session is
	// refreshed.
	RefreshMargin time.Duration
	// JWTSecret verifies HS256 access tokens. Takes precedence over
	// JWTPublicKey.
	JWTSecret []byte
	// JWTPublicKey verifies Ed25519 access tokens (raw or PEM).
	JWTPublicKey []byte
	JWTIssuer    string
	JWTAudience  string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls browser sessions and their persisted provider tokens.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime is the Redis TTL of a persisted provider session.
	Lifetime          time.Duration
	SlidingExpiration bool
	// IdleTTL is how long an unused in-memory store is kept.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	CookieName    string
	SecureCookies bool
}

// RoutesConfig names the two redirect targets of the route guard.
type RoutesConfig struct {
	// GuestEntry is where unauthenticated visitors of protected routes go.
	GuestEntry string
	// AuthLanding is where authenticated visitors of guest-only routes go.
	AuthLanding string
}

// RateLimitConfig throttles the credential forms.
type RateLimitConfig struct {
	Enabled          bool
	RedisPrefix      string
	MaxAttempts      int
	Window           time.Duration
	EnableIPThrottle bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns a configuration suitable for local development. The
// provider URL and API key must still be set.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			AuthPath:      "/auth/v1",
			Timeout:       10 * time.Second,
			RefreshMargin: 60 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:       "ag:ps",
			Lifetime:          7 * 24 * time.Hour,
			SlidingExpiration: true,
			IdleTTL:           30 * time.Minute,
			SweepInterval:     time.Minute,
			CookieName:        "authgate_session",
			SecureCookies:     true,
		},
		Routes: RoutesConfig{
			GuestEntry:  "/login",
			AuthLanding: "/dashboard",
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			RedisPrefix:      "ag:rl",
			MaxAttempts:      5,
			Window:           15 * time.Minute,
			EnableIPThrottle: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		EventBuffer: 16,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Provider.JWTSecret = cloneBytes(cfg.Provider.JWTSecret)
	out.Provider.JWTPublicKey = cloneBytes(cfg.Provider.JWTPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks cfg for values the engine cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	// Provider
	if strings.TrimSpace(c.Provider.URL) == "" {
		return errors.New("Provider URL is required")
	}
	u, err := url.Parse(c.Provider.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("Provider URL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return errors.New("Provider APIKey is required")
	}
	if c.Provider.AuthPath != "" && !strings.HasPrefix(c.Provider.AuthPath, "/") {
		return errors.New("Provider AuthPath must start with /")
	}
	if c.Provider.Timeout <= 0 {
		return errors.New("Provider Timeout must be > 0")
	}
	if c.Provider.RefreshMargin < 0 {
		return errors.New("Provider RefreshMargin must be >= 0")
	}
	if c.Provider.JWTAudience != "" && strings.TrimSpace(c.Provider.JWTAudience) == "" {
		return errors.New("Provider JWTAudience must not be blank")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.IdleTTL <= 0 {
		return errors.New("Session IdleTTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("Session SweepInterval must be > 0")
	}
	if c.Session.CookieName == "" || strings.ContainsAny(c.Session.CookieName, " ;,=\t") {
		return errors.New("Session CookieName is invalid")
	}

	// Routes
	if !isLocalPath(c.Routes.GuestEntry) {
		return errors.New("Routes GuestEntry must be a local path")
	}
	if !isLocalPath(c.Routes.AuthLanding) {
		return errors.New("Routes AuthLanding must be a local path")
	}
	if c.Routes.GuestEntry == c.Routes.AuthLanding {
		return errors.New("Routes GuestEntry and AuthLanding must differ")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxAttempts <= 0 {
			return errors.New("RateLimit MaxAttempts must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.RedisPrefix == "" {
			return errors.New("RateLimit RedisPrefix is required")
		}
		if c.RateLimit.RedisPrefix == c.Session.RedisPrefix {
			return errors.New("RateLimit RedisPrefix must differ from Session RedisPrefix")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	if c.EventBuffer <= 0 {
		return errors.New("EventBuffer must be > 0")
	}

	return nil
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
