package authgate

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/internal/providertest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testConfig(providerURL string) Config {
	cfg := DefaultConfig()
	cfg.Provider.URL = providerURL
	cfg.Provider.APIKey = providertest.APIKey
	cfg.Provider.Timeout = 2 * time.Second
	cfg.Provider.JWTSecret = []byte(providertest.Secret)
	cfg.Audit.Enabled = false
	return cfg
}

type testEngine struct {
	*Engine
	srv *providertest.Server
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func newTestEngine(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEngine {
	t.Helper()
	srv := providertest.New(t)
	mr, rdb := newTestRedis(t)

	cfg := testConfig(srv.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	b := New().WithConfig(cfg).WithRedis(rdb)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEngine{Engine: engine, srv: srv, mr: mr, rdb: rdb}
}

func (te *testEngine) store(t testing.TB) *Store {
	t.Helper()
	st, err := te.Store(context.Background(), te.NewBrowserSessionID())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	return st
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
