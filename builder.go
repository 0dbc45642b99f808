package authgate

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/session"
	"github.com/redis/go-redis/v9"
)

// defaultTokenLeeway tolerates clock skew between this process and the
// provider when reading token expiry.
const defaultTokenLeeway = 30 * time.Second

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for provider sessions and attempt counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used for provider calls. Provider.Timeout
// is ignored when a client is set.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for store bookkeeping and token expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PROVIDER CLIENT --------
	client, err := provider.NewClient(provider.Config{
		URL:        cfg.Provider.URL,
		AuthPath:   cfg.Provider.AuthPath,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    cfg.Provider.Timeout,
		HTTPClient: b.httpClient,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKEN INSPECTOR --------
	inspector, err := jwt.NewInspector(inspectorConfig(cfg.Provider))
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "authgate")
	engine := &Engine{
		config:    cloneConfig(cfg),
		client:    client,
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.Lifetime, cfg.Session.SlidingExpiration),
		inspector: inspector,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       now,
		stores:    make(map[string]*storeEntry),
	}

	// -------- ATTEMPT LIMITER --------
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:           cfg.RateLimit.RedisPrefix,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxAttempts:      cfg.RateLimit.MaxAttempts,
			Window:           cfg.RateLimit.Window,
		})
	}

	b.built = true

	return engine, nil
}

func inspectorConfig(p ProviderConfig) jwt.Config {
	cfg := jwt.Config{
		Method:   jwt.MethodNone,
		Issuer:   p.JWTIssuer,
		Audience: p.JWTAudience,
		Leeway:   defaultTokenLeeway,
	}
	switch {
	case len(p.JWTSecret) > 0:
		cfg.Method = jwt.MethodHS256
		cfg.Secret = cloneBytes(p.JWTSecret)
	case len(p.JWTPublicKey) > 0:
		cfg.Method = jwt.MethodEd25519
		cfg.PublicKey = cloneBytes(p.JWTPublicKey)
	}
	return cfg
}
