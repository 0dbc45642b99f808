package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how long before expiry GetSession refreshes.
const DefaultRefreshMargin = 60 * time.Second

// Storage persists one actor's provider session.
//
// Load returns (nil, nil) when nothing is stored.
type Storage interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context) error
}

// TokenInspector checks an access token and reports when it expires.
type TokenInspector interface {
	ExpiresAt(accessToken string) (time.Time, error)
}

// AuthOption customizes an [Auth].
type AuthOption func(*Auth)

// WithRefreshMargin sets how early GetSession refreshes an expiring token.
func WithRefreshMargin(margin time.Duration) AuthOption {
	return func(a *Auth) {
		if margin >= 0 {
			a.margin = margin
		}
	}
}

// WithTokenInspector makes Auth inspect every issued access token.
func WithTokenInspector(inspector TokenInspector) AuthOption {
	return func(a *Auth) { a.inspector = inspector }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Auth) {
		if now != nil {
			a.now = now
		}
	}
}

// Auth is the stateful provider handle for one actor.
//
// All state-changing operations serialize their storage write, sequence bump
// and event publication under one mutex, so subscribers observe changes in
// sequence order. Provider network calls run outside that mutex.
type Auth struct {
	client    *Client
	storage   Storage
	margin    time.Duration
	inspector TokenInspector
	now       func() time.Time

	refreshes singleflight.Group

	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

// NewAuth binds client to storage for one actor.
func NewAuth(client *Client, storage Storage, opts ...AuthOption) *Auth {
	a := &Auth{
		client:  client,
		storage: storage,
		margin:  DefaultRefreshMargin,
		now:     time.Now,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetSession returns the stored session, refreshing it first when the access
// token expires within the refresh margin.
//
// A refresh the provider rejects clears storage and yields an empty snapshot
// without error. Transport and 5xx failures are returned.
func (a *Auth) GetSession(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	sess, err := a.storage.Load(ctx)
	seq := a.seq
	a.mu.Unlock()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Snapshot{Seq: seq}, nil
	}
	if !sess.ExpiresWithin(a.now(), a.margin) {
		return Snapshot{Session: sess, Seq: seq}, nil
	}
	return a.refresh(ctx, sess.RefreshToken)
}

func (a *Auth) refresh(ctx context.Context, refreshToken string) (Snapshot, error) {
	if refreshToken == "" {
		return a.dropRejected(ctx, refreshToken)
	}

	// Refresh tokens rotate on use, so concurrent refreshes of the same token
	// must share one grant.
	v, err, _ := a.refreshes.Do(refreshToken, func() (any, error) {
		return a.refreshOnce(context.WithoutCancel(ctx), refreshToken)
	})
	if err != nil {
		return Snapshot{}, err
	}
	snap := v.(Snapshot)
	snap.Session = snap.Session.Clone()
	return snap, nil
}

func (a *Auth) refreshOnce(ctx context.Context, refreshToken string) (Snapshot, error) {
	fresh, err := a.client.RefreshSession(ctx, refreshToken)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.IsRejection() {
			return a.dropRejected(ctx, refreshToken)
		}
		return Snapshot{}, fmt.Errorf("refresh session: %w", err)
	}
	if err := a.inspect(fresh); err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.storage.Load(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if current == nil || current.RefreshToken != refreshToken {
		// Signed in or out while the grant was in flight.
		return Snapshot{Session: current, Seq: a.seq}, nil
	}
	if err := a.storage.Save(ctx, fresh); err != nil {
		return Snapshot{}, fmt.Errorf("save session: %w", err)
	}
	a.seq++
	a.publish(EventTokenRefreshed, fresh)
	return Snapshot{Session: fresh, Seq: a.seq}, nil
}

func (a *Auth) dropRejected(ctx context.Context, refreshToken string) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.storage.Load(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if current == nil {
		return Snapshot{Seq: a.seq}, nil
	}
	if current.RefreshToken != refreshToken {
		return Snapshot{Session: current, Seq: a.seq}, nil
	}
	if err := a.storage.Delete(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("delete session: %w", err)
	}
	a.seq++
	a.publish(EventSignedOut, nil)
	return Snapshot{Seq: a.seq}, nil
}

// SignInWithPassword signs in, persists the session and publishes SIGNED_IN.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (Snapshot, error) {
	sess, err := a.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Snapshot{}, err
	}
	if err := a.inspect(sess); err != nil {
		return Snapshot{}, err
	}
	return a.store(ctx, sess, EventSignedIn)
}

// SignUp registers a new identity. When the provider returns a session
// (auto-confirm) the session is persisted and SIGNED_IN is published.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*SignUpResponse, error) {
	resp, err := a.client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return resp, nil
	}
	if err := a.inspect(resp.Session); err != nil {
		return nil, err
	}
	if _, err := a.store(ctx, resp.Session, EventSignedIn); err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Auth) store(ctx context.Context, sess *Session, typ EventType) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.storage.Save(ctx, sess); err != nil {
		return Snapshot{}, fmt.Errorf("save session: %w", err)
	}
	a.seq++
	a.publish(typ, sess)
	return Snapshot{Session: sess.Clone(), Seq: a.seq}, nil
}

// SignOut revokes the session at the provider, clears storage and publishes
// SIGNED_OUT. A provider answer saying the token is already gone counts as
// success; any other failure leaves the stored session in place.
func (a *Auth) SignOut(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	sess, err := a.storage.Load(ctx)
	a.mu.Unlock()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}

	if sess != nil && sess.AccessToken != "" {
		if err := a.client.Logout(ctx, sess.AccessToken); err != nil && !alreadySignedOut(err) {
			return Snapshot{}, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.storage.Delete(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("delete session: %w", err)
	}
	a.seq++
	a.publish(EventSignedOut, nil)
	return Snapshot{Seq: a.seq}, nil
}

func alreadySignedOut(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// GetUser fetches the current identity from the provider using the stored
// access token.
func (a *Auth) GetUser(ctx context.Context) (*User, error) {
	snap, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Session == nil {
		return nil, ErrNoSession
	}
	return a.client.GetUser(ctx, snap.Session.AccessToken)
}

// Recover asks the provider to send a password recovery e-mail.
func (a *Auth) Recover(ctx context.Context, email string) error {
	return a.client.Recover(ctx, email)
}

func (a *Auth) inspect(sess *Session) error {
	if a.inspector == nil {
		return nil
	}
	exp, err := a.inspector.ExpiresAt(sess.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	if sess.ExpiresAt == 0 && !exp.IsZero() {
		sess.ExpiresAt = exp.Unix()
	}
	return nil
}
