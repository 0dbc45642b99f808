// Package enginetest builds an Engine wired to a fake provider and an
// in-memory Redis for tests outside the root package.
package enginetest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/providertest"
)

// Env is one test engine and its backends.
type Env struct {
	Engine   *authgate.Engine
	Provider *providertest.Server
	Redis    *miniredis.Miniredis
}

// Config returns a valid config pointing at providerURL with audit off and
// secure cookies disabled, since httptest speaks plain HTTP.
func Config(providerURL string) authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.Provider.URL = providerURL
	cfg.Provider.APIKey = providertest.APIKey
	cfg.Provider.Timeout = 2 * time.Second
	cfg.Provider.JWTSecret = []byte(providertest.Secret)
	cfg.Session.SecureCookies = false
	cfg.Audit.Enabled = false
	return cfg
}

// New starts the backends and builds an engine closed with the test.
func New(t testing.TB, mutate func(*authgate.Config), opts ...func(*authgate.Builder)) *Env {
	t.Helper()
	srv := providertest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config(srv.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	b := authgate.New().WithConfig(cfg).WithRedis(rdb)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return &Env{Engine: engine, Provider: srv, Redis: mr}
}
