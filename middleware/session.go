package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authgate"
)

type storeContextKey struct{}

// StoreProvider resolves browser session IDs to stores. *authgate.Engine
// implements it.
type StoreProvider interface {
	Store(ctx context.Context, browserSessionID string) (*authgate.Store, error)
	NewBrowserSessionID() string
}

// WithStore attaches st to ctx.
func WithStore(ctx context.Context, st *authgate.Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, st)
}

// StoreFromContext returns the store injected by [Session].
func StoreFromContext(ctx context.Context) (*authgate.Store, bool) {
	st, ok := ctx.Value(storeContextKey{}).(*authgate.Store)
	return st, ok && st != nil
}

// Session binds each request to the caller's store. Requests without a
// usable cookie get a fresh browser session ID.
func Session(stores StoreProvider, cookie Cookie, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, ok := cookie.Read(r)
			var (
				st  *authgate.Store
				err error
			)
			if ok {
				st, err = stores.Store(ctx, id)
			}
			if !ok || errors.Is(err, authgate.ErrInvalidBrowserSession) {
				id = stores.NewBrowserSessionID()
				cookie.Write(w, id)
				st, err = stores.Store(ctx, id)
			}
			if err != nil {
				logger.ErrorContext(ctx, "resolve auth store failed",
					"request_id", RequestIDFromContext(ctx),
					"error", err,
				)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithStore(ctx, st)))
		})
	}
}
