package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/enginetest"
	"github.com/MrEthical07/authgate/router"
)

const testCookie = "authgate_session"

func newGuardHandler(t *testing.T, env *enginetest.Env, req router.Requirement) http.Handler {
	t.Helper()
	g, err := router.NewGuard(router.Config{GuestEntry: "/login", AuthLanding: "/dashboard"})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return Chain(ok,
		Session(env.Engine, Cookie{Name: testCookie}, nil),
		Guard(g, "/login", req),
	)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestSessionIssuesCookie(t *testing.T) {
	env := enginetest.New(t, nil)
	var got *authgate.Store
	h := Session(env.Engine, Cookie{Name: testCookie}, nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = StoreFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	c := sessionCookie(t, rec)
	if got == nil || got.ID() != c.Value {
		t.Fatalf("store %v does not match cookie %q", got, c.Value)
	}

	// Same cookie, same store, no new cookie.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	first := got
	h.ServeHTTP(rec, req)
	if got != first {
		t.Fatal("cookie should resolve to the cached store")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("existing session should not be re-issued")
	}
}

func TestSessionReplacesInvalidCookie(t *testing.T) {
	env := enginetest.New(t, nil)
	h := Session(env.Engine, Cookie{Name: testCookie}, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "not-a-uuid"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if c := sessionCookie(t, rec); c.Value == "not-a-uuid" {
		t.Fatal("invalid cookie was kept")
	}
}

func TestSessionUnavailableAfterClose(t *testing.T) {
	env := enginetest.New(t, nil)
	env.Engine.Close()
	h := Session(env.Engine, Cookie{Name: testCookie}, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardRedirectsGuestWithNext(t *testing.T) {
	env := enginetest.New(t, nil)
	h := newGuardHandler(t, env, router.RequiresAuth)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard?tab=2", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad location: %v", err)
	}
	if loc.Path != "/login" || loc.Query().Get(NextParam) != "/dashboard?tab=2" {
		t.Fatalf("location = %s", loc)
	}
}

func TestGuardUsesSeeOtherForPost(t *testing.T) {
	env := enginetest.New(t, nil)
	h := newGuardHandler(t, env, router.RequiresAuth)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuardAllowsAndRedirectsSignedIn(t *testing.T) {
	env := enginetest.New(t, nil)
	env.Provider.AddUser("ada@example.com", "correct horse")

	id := env.Engine.NewBrowserSessionID()
	st, err := env.Engine.Store(context.Background(), id)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := st.SignIn(context.Background(), "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	auth := newGuardHandler(t, env, router.RequiresAuth)
	guest := newGuardHandler(t, env, router.RequiresGuest)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: id})
	rec := httptest.NewRecorder()
	auth.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("dashboard status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: id})
	rec = httptest.NewRecorder()
	guest.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuardWithoutStoreFails(t *testing.T) {
	g, _ := router.NewGuard(router.Config{GuestEntry: "/login", AuthLanding: "/dashboard"})
	h := Guard(g, "/login", router.RequiresAuth)(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := map[string]bool{
		"/dashboard":           true,
		"/a?b=c":               true,
		"":                     false,
		"dashboard":            false,
		"//evil.example":       false,
		"/\\evil.example":      false,
		"https://evil.example": false,
		"/ok\r\nSet-Cookie: x": false,
	}
	for in, want := range tests {
		if got := IsLocalPath(in); got != want {
			t.Fatalf("IsLocalPath(%q) = %v, want %v", in, got, want)
		}
	}
}
