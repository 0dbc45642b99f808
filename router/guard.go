package router

import (
	"context"
	"errors"
	"log/slog"
)

// Session is the view of auth state the guard needs.
type Session interface {
	Initialized() bool
	Initialize(ctx context.Context) error
	IsAuthenticated() bool
}

// Config names the redirect targets.
type Config struct {
	GuestEntry  string
	AuthLanding string
}

// Decision is the outcome of one guard check. Redirect is set exactly when
// Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

// Option customizes a [Guard].
type Option func(*Guard)

// WithLogger sets the logger used for initialization failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithDecisionHook registers fn to observe every decision.
func WithDecisionHook(fn func(ctx context.Context, path string, d Decision)) Option {
	return func(g *Guard) { g.onDecision = fn }
}

// Guard gates navigations. It is stateless and safe for concurrent use.
type Guard struct {
	cfg        Config
	logger     *slog.Logger
	onDecision func(ctx context.Context, path string, d Decision)
}

// NewGuard returns a guard redirecting to the targets in cfg.
func NewGuard(cfg Config, opts ...Option) (*Guard, error) {
	if cfg.GuestEntry == "" || cfg.AuthLanding == "" {
		return nil, errors.New("guard redirect targets are required")
	}
	g := &Guard{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check decides a navigation to path with requirement req.
//
// An uninitialized session is initialized first and the decision waits for
// it. When initialization fails the failure is logged and the decision is
// made against the session as it stands, which is unauthenticated.
func (g *Guard) Check(ctx context.Context, sess Session, path string, req Requirement) Decision {
	if !sess.Initialized() {
		if err := sess.Initialize(ctx); err != nil {
			g.logger.WarnContext(ctx, "guard: session initialization failed",
				"path", path,
				"error", err,
			)
		}
	}

	d := Decide(req, sess.IsAuthenticated(), g.cfg)
	if g.onDecision != nil {
		g.onDecision(ctx, path, d)
	}
	return d
}

// Decide is the pure requirement check.
func Decide(req Requirement, authenticated bool, cfg Config) Decision {
	switch {
	case req == RequiresAuth && !authenticated:
		return Decision{Redirect: cfg.GuestEntry}
	case req == RequiresGuest && authenticated:
		return Decision{Redirect: cfg.AuthLanding}
	default:
		return Decision{Allow: true}
	}
}
