// Package authgate wires the authgate command: configuration from the
// environment and flags, backends, the engine and the web server.
package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/authgate"
)

// Config holds the command configuration. Environment variables set the
// defaults; flags override a subset.
type Config struct {
	HTTPAddr   string `env:"AUTHGATE_HTTP_ADDR" envDefault:"localhost:8080"`
	TrustProxy bool   `env:"AUTHGATE_TRUST_PROXY"`

	// RedisAddr empty starts an in-process Redis; for local development only.
	RedisAddr     string `env:"AUTHGATE_REDIS_ADDR"`
	RedisPassword string `env:"AUTHGATE_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHGATE_REDIS_DB"`

	ProviderURL         string        `env:"AUTHGATE_PROVIDER_URL"`
	ProviderAuthPath    string        `env:"AUTHGATE_PROVIDER_AUTH_PATH" envDefault:"/auth/v1"`
	ProviderAPIKey      string        `env:"AUTHGATE_PROVIDER_API_KEY"`
	ProviderTimeout     time.Duration `env:"AUTHGATE_PROVIDER_TIMEOUT" envDefault:"10s"`
	RefreshMargin       time.Duration `env:"AUTHGATE_REFRESH_MARGIN" envDefault:"60s"`
	JWTSecret           string        `env:"AUTHGATE_JWT_SECRET"`
	JWTIssuer           string        `env:"AUTHGATE_JWT_ISSUER"`
	JWTAudience         string        `env:"AUTHGATE_JWT_AUDIENCE"`
	SkipProviderCheck   bool          `env:"AUTHGATE_SKIP_PROVIDER_CHECK"`
	ProviderCheckWindow time.Duration `env:"AUTHGATE_PROVIDER_CHECK_TIMEOUT" envDefault:"15s"`

	CookieName      string        `env:"AUTHGATE_COOKIE_NAME" envDefault:"authgate_session"`
	SecureCookies   bool          `env:"AUTHGATE_SECURE_COOKIES" envDefault:"true"`
	SessionLifetime time.Duration `env:"AUTHGATE_SESSION_LIFETIME" envDefault:"168h"`
	IdleTTL         time.Duration `env:"AUTHGATE_IDLE_TTL" envDefault:"30m"`
	SweepInterval   time.Duration `env:"AUTHGATE_SWEEP_INTERVAL" envDefault:"1m"`

	GuestEntry  string `env:"AUTHGATE_GUEST_ENTRY" envDefault:"/login"`
	AuthLanding string `env:"AUTHGATE_AUTH_LANDING" envDefault:"/dashboard"`

	RateLimitEnabled bool          `env:"AUTHGATE_RATE_LIMIT" envDefault:"true"`
	MaxAttempts      int           `env:"AUTHGATE_RATE_LIMIT_MAX_ATTEMPTS" envDefault:"5"`
	AttemptWindow    time.Duration `env:"AUTHGATE_RATE_LIMIT_WINDOW" envDefault:"15m"`

	AuditEnabled bool `env:"AUTHGATE_AUDIT" envDefault:"true"`
	OTelMetrics  bool `env:"AUTHGATE_OTEL_METRICS"`

	LogLevel  string `env:"AUTHGATE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHGATE_LOG_FORMAT" envDefault:"text"`

	// Lint prints the configuration report and exits.
	Lint bool
	// StrictLint refuses to start with HIGH lint findings.
	StrictLint bool `env:"AUTHGATE_STRICT_LINT"`
}

// ParseConfig loads the environment, then parses args into fs.
func ParseConfig(fs *pflag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag set is required")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address; empty starts an in-process Redis")
	fs.StringVar(&cfg.ProviderURL, "provider-url", cfg.ProviderURL, "auth provider project URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "take client IPs from X-Forwarded-For")
	fs.BoolVar(&cfg.Lint, "lint", false, "print the configuration report and exit")
	fs.BoolVar(&cfg.StrictLint, "strict-lint", cfg.StrictLint, "refuse to start with HIGH lint findings")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EngineConfig maps the command configuration onto the engine's.
func (c Config) EngineConfig() authgate.Config {
	cfg := authgate.DefaultConfig()

	cfg.Provider.URL = c.ProviderURL
	cfg.Provider.AuthPath = c.ProviderAuthPath
	cfg.Provider.APIKey = c.ProviderAPIKey
	cfg.Provider.Timeout = c.ProviderTimeout
	cfg.Provider.RefreshMargin = c.RefreshMargin
	if c.JWTSecret != "" {
		cfg.Provider.JWTSecret = []byte(c.JWTSecret)
	}
	cfg.Provider.JWTIssuer = c.JWTIssuer
	cfg.Provider.JWTAudience = c.JWTAudience

	cfg.Session.CookieName = c.CookieName
	cfg.Session.SecureCookies = c.SecureCookies
	cfg.Session.Lifetime = c.SessionLifetime
	cfg.Session.IdleTTL = c.IdleTTL
	cfg.Session.SweepInterval = c.SweepInterval

	cfg.Routes.GuestEntry = c.GuestEntry
	cfg.Routes.AuthLanding = c.AuthLanding

	cfg.RateLimit.Enabled = c.RateLimitEnabled
	cfg.RateLimit.MaxAttempts = c.MaxAttempts
	cfg.RateLimit.Window = c.AttemptWindow

	cfg.Audit.Enabled = c.AuditEnabled
	return cfg
}
