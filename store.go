package authgate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/authgate/provider"
	"golang.org/x/sync/singleflight"
)

// DefaultInitTimeout bounds the shared session fetch of Initialize.
const DefaultInitTimeout = 10 * time.Second

// StoreOption customizes a [Store].
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreID names the browser session the store belongs to. It appears in
// logs and audit events.
func WithStoreID(id string) StoreOption {
	return func(s *Store) { s.id = id }
}

// WithInitTimeout bounds the session fetch shared by concurrent Initialize
// callers.
func WithInitTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// WithEventBuffer sets the provider event buffer size.
func WithEventBuffer(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

func withMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func withAudit(d *auditDispatcher) StoreOption {
	return func(s *Store) { s.audit = d }
}

// Store is the auth state of one actor.
//
// State changes come from two places: the direct results of SignIn and
// SignOut, and events pushed by the provider handle. Every change carries the
// provider sequence number and the store never applies a change older than
// the last one applied.
type Store struct {
	auth        *provider.Auth
	id          string
	logger      *slog.Logger
	metrics     *Metrics
	audit       *auditDispatcher
	initTimeout time.Duration
	eventBuffer int

	initGroup singleflight.Group
	subOnce   sync.Once

	mu          sync.Mutex
	user        *provider.User
	loading     int
	initialized bool
	applied     uint64
	closed      bool
	sub         *provider.Subscription

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStore wraps auth. The store subscribes to auth lazily on first use.
func NewStore(auth *provider.Auth, opts ...StoreOption) *Store {
	s := &Store{
		auth:        auth,
		logger:      slog.Default(),
		initTimeout: DefaultInitTimeout,
		eventBuffer: provider.DefaultEventBuffer,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id != "" {
		s.logger = s.logger.With("browser_session", shortID(s.id))
	}
	return s
}

/*
====================================
INITIALIZATION
====================================
*/

// Initialize fetches the current provider session once and subscribes to
// later changes.
//
// Concurrent callers share one fetch. Once it succeeded, Initialize returns
// nil without network calls. A failed fetch leaves the store uninitialized so
// the next caller retries. A caller whose ctx ends stops waiting but does not
// cancel the shared fetch.
func (s *Store) Initialize(ctx context.Context) error {
	if s.Initialized() {
		return nil
	}
	if err := s.subscribe(); err != nil {
		return err
	}

	ch := s.initGroup.DoChan("init", func() (any, error) {
		return nil, s.initialize(ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.Inc(MetricInitializeCoalesced)
		}
		if res.Err != nil {
			return remoteErr(OpInitialize, res.Err)
		}
		return nil
	case <-ctx.Done():
		return remoteErr(OpInitialize, ctx.Err())
	}
}

func (s *Store) initialize(ctx context.Context) error {
	if s.Initialized() {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.initTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.auth.GetSession(fetchCtx)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricInitializeFailure)
		s.logger.WarnContext(ctx, "session fetch failed", "error", err)
		emitAudit(ctx, s.audit, auditEventInitializeFailure, false, "", s.id, err, nil)
		return err
	}

	s.mu.Lock()
	s.applyLocked(snap.Seq, snap.Session)
	s.initialized = true
	s.mu.Unlock()

	s.metrics.Inc(MetricInitializeSuccess)
	s.logger.DebugContext(ctx, "store initialized", "authenticated", snap.Session != nil, "seq", snap.Seq)
	return nil
}

/*
====================================
OPERATIONS
====================================
*/

// SignUp registers a new identity. User is not changed here; when the
// provider signs the new user in right away the pushed SIGNED_IN event
// updates it.
func (s *Store) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	start := time.Now()
	resp, err := s.auth.SignUp(ctx, email, password)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricSignUpFailure)
		emitAudit(ctx, s.audit, auditEventSignUpFailure, false, "", s.id, err, nil)
		return nil, remoteErr(OpSignUp, err)
	}

	s.metrics.Inc(MetricSignUpSuccess)
	emitAudit(ctx, s.audit, auditEventSignUpSuccess, true, userID(resp.User), s.id, nil, func() map[string]string {
		return map[string]string{"confirmation_required": boolString(resp.Session == nil)}
	})
	return &SignUpResult{
		User:                 resp.User,
		Session:              resp.Session,
		ConfirmationRequired: resp.Session == nil,
	}, nil
}

// SignIn authenticates with a password and, on success, sets User to the
// identity the provider returned.
func (s *Store) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	start := time.Now()
	snap, err := s.auth.SignInWithPassword(ctx, email, password)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricSignInFailure)
		emitAudit(ctx, s.audit, auditEventSignInFailure, false, "", s.id, err, nil)
		return nil, remoteErr(OpSignIn, err)
	}

	s.apply(snap.Seq, snap.Session)
	s.metrics.Inc(MetricSignInSuccess)
	emitAudit(ctx, s.audit, auditEventSignInSuccess, true, userID(snap.User()), s.id, nil, nil)
	return &SignInResult{User: snap.User(), Session: snap.Session}, nil
}

// SignOut ends the provider session. On failure User is left untouched.
func (s *Store) SignOut(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	prev := s.User()

	start := time.Now()
	snap, err := s.auth.SignOut(ctx)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricSignOutFailure)
		emitAudit(ctx, s.audit, auditEventSignOutFailure, false, userID(prev), s.id, err, nil)
		return remoteErr(OpSignOut, err)
	}

	s.apply(snap.Seq, nil)
	s.metrics.Inc(MetricSignOutSuccess)
	emitAudit(ctx, s.audit, auditEventSignOutSuccess, true, userID(prev), s.id, nil, nil)
	return nil
}

// RequestPasswordReset asks the provider to e-mail a recovery link. State is
// not changed.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	start := time.Now()
	err := s.auth.Recover(ctx, email)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricPasswordResetFailure)
		emitAudit(ctx, s.audit, auditEventPasswordResetRequest, false, "", s.id, err, nil)
		return remoteErr(OpPasswordReset, err)
	}
	s.metrics.Inc(MetricPasswordResetRequest)
	emitAudit(ctx, s.audit, auditEventPasswordResetRequest, true, "", s.id, nil, nil)
	return nil
}

// Refresh re-reads the provider session, refreshing tokens that are about to
// expire. A refresh the provider rejects signs the store out.
func (s *Store) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	start := time.Now()
	snap, err := s.auth.GetSession(ctx)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricRefreshFailure)
		emitAudit(ctx, s.audit, auditEventBackgroundRefreshFail, false, userID(s.User()), s.id, err, nil)
		return remoteErr(OpRefresh, err)
	}
	s.apply(snap.Seq, snap.Session)
	s.metrics.Inc(MetricRefreshSuccess)
	return nil
}

// FetchUser asks the provider for the signed-in identity. The cached User is
// not replaced; provider-side edits show up here first.
func (s *Store) FetchUser(ctx context.Context) (*provider.User, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	start := time.Now()
	u, err := s.auth.GetUser(ctx)
	s.metrics.Observe(MetricProviderLatency, time.Since(start))
	if err != nil {
		return nil, remoteErr(OpGetUser, err)
	}
	return u, nil
}

/*
====================================
READERS
====================================
*/

// State returns a snapshot of the store.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		User:        s.user,
		Loading:     s.loading > 0,
		Initialized: s.initialized,
	}
}

// User returns the signed-in identity or nil.
func (s *Store) User() *provider.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Store) IsAuthenticated() bool {
	return s.User() != nil
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// ID returns the browser session ID the store was created for.
func (s *Store) ID() string {
	return s.id
}

/*
====================================
LIFECYCLE
====================================
*/

// Close drops the provider subscription and stops the event consumer.
// Persisted provider tokens are not touched. Idempotent.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.mu.Unlock()

		close(s.done)
		if sub != nil {
			sub.Unsubscribe()
		}
		s.wg.Wait()
	})
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) begin() error {
	if err := s.subscribe(); err != nil {
		return err
	}
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	return nil
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}

// subscribe registers with the provider handle once. The handle is called
// without s.mu held.
func (s *Store) subscribe() error {
	s.subOnce.Do(func() {
		if s.isClosed() {
			return
		}
		sub := s.auth.OnAuthStateChange(s.eventBuffer)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		s.sub = sub
		s.wg.Add(1)
		s.mu.Unlock()

		go s.consume(sub)
	})

	if s.isClosed() {
		return ErrStoreClosed
	}
	return nil
}

func (s *Store) consume(sub *provider.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-sub.Events():
			s.handleEvent(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Store) handleEvent(ev provider.Event) {
	if !s.apply(ev.Seq, ev.Session) {
		s.metrics.Inc(MetricProviderEventStale)
		s.logger.Debug("stale provider event", "event", ev.Type, "seq", ev.Seq)
		return
	}
	s.metrics.Inc(MetricProviderEventApplied)

	var uid string
	if ev.Session != nil {
		uid = userID(ev.Session.User)
	}
	eventType := auditEventProviderTokenRefresh
	switch ev.Type {
	case provider.EventSignedIn:
		eventType = auditEventProviderSignedIn
	case provider.EventSignedOut:
		eventType = auditEventProviderSignedOut
	}
	emitAudit(context.Background(), s.audit, eventType, true, uid, s.id, nil, nil)
	s.logger.Debug("provider event applied", "event", ev.Type, "seq", ev.Seq)
}

func (s *Store) apply(seq uint64, sess *provider.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(seq, sess)
}

// applyLocked sets user from sess unless a newer change was applied already.
func (s *Store) applyLocked(seq uint64, sess *provider.Session) bool {
	if seq < s.applied {
		return false
	}
	s.applied = seq
	if sess == nil {
		s.user = nil
	} else {
		s.user = sess.User
	}
	return true
}

func userID(u *provider.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// shortID truncates a browser session ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
