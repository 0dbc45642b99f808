package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/authgate/router"
)

// NextParam is the query parameter carrying the originally requested path
// through the guest entry page.
const NextParam = "next"

// Guard enforces req on the wrapped handler using the store injected by
// [Session].
func Guard(g *router.Guard, guestEntry string, req router.Requirement) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := StoreFromContext(r.Context())
			if !ok {
				slog.ErrorContext(r.Context(), "guard: no auth store in request context", "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			d := g.Check(r.Context(), st, r.URL.Path, req)
			if d.Allow {
				next.ServeHTTP(w, r)
				return
			}

			location := d.Redirect
			if d.Redirect == guestEntry && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
				location = withNext(d.Redirect, r.URL.RequestURI())
			}
			Redirect(w, r, location)
		})
	}
}

// Redirect answers GET and HEAD with 302 and everything else with 303 so
// the browser follows with a GET.
func Redirect(w http.ResponseWriter, r *http.Request, location string) {
	status := http.StatusSeeOther
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		status = http.StatusFound
	}
	http.Redirect(w, r, location, status)
}

func withNext(target, next string) string {
	if !IsLocalPath(next) {
		return target
	}
	return target + "?" + url.Values{NextParam: {next}}.Encode()
}

// IsLocalPath reports whether p is safe to redirect to: an absolute path on
// this host, not a scheme-relative or backslash URL.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}
	if strings.ContainsAny(p, "\\\r\n") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}
