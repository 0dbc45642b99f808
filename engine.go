package authgate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/session"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// sweepConcurrency caps parallel provider calls of one janitor pass.
const sweepConcurrency = 8

// Engine is the process-wide auth context. Build one with [New] and pass it
// to the router and web layers.
type Engine struct {
	config    Config
	client    *provider.Client
	sessions  *session.Store
	inspector *jwt.Inspector
	limiter   *rate.Limiter
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	stores map[string]*storeEntry
	closed bool
}

type storeEntry struct {
	store    *Store
	lastSeen time.Time
}

// Store returns the auth store of the browser session id, creating it on
// first use. The provider session persisted for id, if any, is picked up by
// the store's Initialize.
func (e *Engine) Store(ctx context.Context, id string) (*Store, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidBrowserSession
	}
	id = parsed.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineNotReady
	}
	if entry, ok := e.stores[id]; ok {
		entry.lastSeen = e.now()
		return entry.store, nil
	}

	opts := []provider.AuthOption{
		provider.WithRefreshMargin(e.config.Provider.RefreshMargin),
		provider.WithClock(e.now),
	}
	if e.inspector != nil {
		opts = append(opts, provider.WithTokenInspector(e.inspector))
	}
	auth := provider.NewAuth(e.client, e.sessions.Scoped(id), opts...)

	st := NewStore(auth,
		WithStoreID(id),
		WithStoreLogger(e.logger),
		WithInitTimeout(e.config.Provider.Timeout),
		WithEventBuffer(e.config.EventBuffer),
		withMetrics(e.metrics),
		withAudit(e.audit),
	)
	e.stores[id] = &storeEntry{store: st, lastSeen: e.now()}
	e.metrics.Inc(MetricStoreCreated)
	e.logger.DebugContext(ctx, "store created", "browser_session", shortID(id))
	return st, nil
}

// NewBrowserSessionID returns a fresh random browser session ID.
func (e *Engine) NewBrowserSessionID() string {
	return uuid.NewString()
}

// CheckProvider calls the provider health endpoint.
func (e *Engine) CheckProvider(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	start := time.Now()
	err := e.client.Health(ctx)
	e.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		return remoteErr(OpInitialize, err)
	}
	return nil
}

/*
====================================
JANITOR
====================================
*/

// Run sweeps stores every Session.SweepInterval until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ticker := time.NewTicker(e.config.Session.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep evicts stores idle for longer than Session.IdleTTL and refreshes
// the provider sessions of the remaining signed-in stores. Refresh failures
// are logged; a rejected refresh signs the store out.
func (e *Engine) Sweep(ctx context.Context) {
	if e == nil {
		return
	}
	now := e.now()

	var evicted, live []*Store
	e.mu.Lock()
	for id, entry := range e.stores {
		if now.Sub(entry.lastSeen) > e.config.Session.IdleTTL {
			evicted = append(evicted, entry.store)
			delete(e.stores, id)
			continue
		}
		live = append(live, entry.store)
	}
	e.mu.Unlock()

	for _, st := range evicted {
		st.Close()
		e.metrics.Inc(MetricStoreEvicted)
		emitAudit(ctx, e.audit, auditEventStoreEvicted, true, userID(st.User()), st.ID(), nil, nil)
	}
	if len(evicted) > 0 {
		e.logger.DebugContext(ctx, "idle stores evicted", "count", len(evicted))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, st := range live {
		if !st.IsAuthenticated() {
			continue
		}
		g.Go(func() error {
			if err := st.Refresh(gctx); err != nil && !errors.Is(err, ErrStoreClosed) {
				e.logger.WarnContext(gctx, "background refresh failed",
					"browser_session", shortID(st.ID()),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// StoreCount returns the number of live stores.
func (e *Engine) StoreCount() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stores)
}

/*
====================================
ATTEMPT THROTTLING
====================================
*/

// AttemptKind names a throttled credential form.
type AttemptKind string

const (
	AttemptSignIn        AttemptKind = "sign_in"
	AttemptSignUp        AttemptKind = "sign_up"
	AttemptPasswordReset AttemptKind = "password_reset"
)

func (k AttemptKind) action() rate.Action {
	switch k {
	case AttemptSignUp:
		return rate.ActionSignUp
	case AttemptPasswordReset:
		return rate.ActionPasswordReset
	default:
		return rate.ActionSignIn
	}
}

// AllowAttempt returns ErrRateLimited when identifier or the client IP in
// ctx exhausted the attempt budget of kind. Limiter outages fail open.
func (e *Engine) AllowAttempt(ctx context.Context, kind AttemptKind, identifier string) error {
	if e == nil || e.limiter == nil {
		return nil
	}
	err := e.limiter.Check(ctx, kind.action(), identifier, ClientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, kind, identifier)
		return ErrRateLimited
	default:
		e.logger.WarnContext(ctx, "rate limiter unavailable", "kind", kind, "error", err)
		return nil
	}
}

// RecordFailedAttempt counts one failed attempt. It returns ErrRateLimited
// when this attempt used up the budget.
func (e *Engine) RecordFailedAttempt(ctx context.Context, kind AttemptKind, identifier string) error {
	if e == nil || e.limiter == nil {
		return nil
	}
	err := e.limiter.RecordFailure(ctx, kind.action(), identifier, ClientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, kind, identifier)
		return ErrRateLimited
	default:
		e.logger.WarnContext(ctx, "rate limiter unavailable", "kind", kind, "error", err)
		return nil
	}
}

// ClearAttempts resets the counters after a successful attempt.
func (e *Engine) ClearAttempts(ctx context.Context, kind AttemptKind, identifier string) {
	if e == nil || e.limiter == nil {
		return
	}
	if err := e.limiter.Reset(ctx, kind.action(), identifier, ClientIPFromContext(ctx)); err != nil {
		e.logger.WarnContext(ctx, "rate limiter reset failed", "kind", kind, "error", err)
	}
}

/*
====================================
GUARD OBSERVATION
====================================
*/

// ObserveGuard records one guard decision. redirect is empty when the
// navigation was allowed.
func (e *Engine) ObserveGuard(ctx context.Context, browserSessionID, path, redirect string) {
	if e == nil {
		return
	}
	if redirect == "" {
		e.metrics.Inc(MetricGuardAllow)
		return
	}
	if redirect == e.config.Routes.GuestEntry {
		e.metrics.Inc(MetricGuardRedirectGuest)
	} else {
		e.metrics.Inc(MetricGuardRedirectAuthenticated)
	}
	emitAudit(ctx, e.audit, auditEventGuardRedirect, true, "", browserSessionID, nil, func() map[string]string {
		return map[string]string{"path": path, "redirect": redirect}
	})
}

/*
====================================
ACCESSORS
====================================
*/

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) Logger() *slog.Logger {
	if e == nil || e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// Close closes every store and flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	stores := e.stores
	e.stores = make(map[string]*storeEntry)
	e.mu.Unlock()

	for _, entry := range stores {
		entry.store.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}
