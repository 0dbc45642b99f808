package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/router"
)

const (
	msgInvalidCredentials = "Invalid email or password."
	msgUnavailable        = "The sign-in service is unavailable. Try again shortly."
	msgRateLimited        = "Too many attempts. Wait a few minutes and try again."
	msgDuplicate          = "An account with this email already exists."
	msgSignUpRejected     = "That email and password were not accepted."
	msgConfirmEmail       = "Check your email to confirm your account, then sign in."
	msgResetSent          = "If an account exists for that email, a recovery link is on its way."
	msgSignOutFailed      = "Signing out failed. Try again."
	msgMissingFields      = "Email and password are required."
	msgUnconfirmed        = "Confirm your email address before signing in."
)

// HandlerConfig configures [NewHandler].
type HandlerConfig struct {
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// DisableMetrics leaves /metrics unmounted.
	DisableMetrics bool
	Logger         *slog.Logger
}

type handler struct {
	engine *authgate.Engine
	routes authgate.RoutesConfig
	guard  *router.Guard
	logger *slog.Logger
	links  routeLinks
}

// NewHandler builds the root handler for engine.
func NewHandler(engine *authgate.Engine, cfg HandlerConfig) (http.Handler, error) {
	if engine == nil {
		return nil, authgate.ErrEngineNotReady
	}
	logger := cfg.Logger
	if logger == nil {
		logger = engine.Logger()
	}
	ecfg := engine.Config()

	table, err := Routes(ecfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("route table: %w", err)
	}

	links, err := linksFor(table)
	if err != nil {
		return nil, err
	}
	h := &handler{
		engine: engine,
		routes: ecfg.Routes,
		logger: logger,
		links:  links,
	}
	h.guard, err = router.NewGuard(router.Config{
		GuestEntry:  ecfg.Routes.GuestEntry,
		AuthLanding: ecfg.Routes.AuthLanding,
	}, router.WithLogger(logger), router.WithDecisionHook(h.observe))
	if err != nil {
		return nil, err
	}

	cookie := middleware.Cookie{Name: ecfg.Session.CookieName, Secure: ecfg.Session.SecureCookies}
	session := middleware.Session(engine, cookie, logger)

	pages := map[string]map[string]http.HandlerFunc{
		RouteLogin:         {http.MethodGet: h.loginPage, http.MethodPost: h.signIn},
		RouteSignUp:        {http.MethodGet: h.signUpPage, http.MethodPost: h.signUp},
		RoutePasswordReset: {http.MethodGet: h.resetPage, http.MethodPost: h.requestReset},
		RouteSignOut:       {http.MethodPost: h.signOut},
		RouteDashboard:     {http.MethodGet: h.dashboard},
	}

	mux := http.NewServeMux()
	for _, route := range table.Routes() {
		_, req, _ := table.Lookup(route.Path)
		switch {
		case route.Redirect != "":
			target := route.Redirect
			mux.HandleFunc("GET "+exact(route.Path), func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, target, http.StatusFound)
			})
		case route.Name == RouteHealth:
			mux.HandleFunc("GET "+route.Path, h.health)
		case route.Name == RouteMetrics:
			if !cfg.DisableMetrics {
				mux.Handle("GET "+route.Path, prometheus.NewPrometheusExporter(engine).Handler())
			}
		default:
			for method, fn := range pages[route.Name] {
				mux.Handle(method+" "+route.Path, middleware.Chain(fn,
					session,
					middleware.Guard(h.guard, ecfg.Routes.GuestEntry, req),
				))
			}
		}
	}

	return middleware.Chain(mux,
		middleware.RecoverPanic(logger),
		middleware.RequestID(),
		middleware.ClientIP(cfg.TrustProxy),
		middleware.RequestLogger(logger),
	), nil
}

// linksFor resolves the page links from the route table by name.
func linksFor(table *router.Table) (routeLinks, error) {
	path := func(name string) (string, error) {
		r, ok := table.ByName(name)
		if !ok {
			return "", fmt.Errorf("route table: missing %q", name)
		}
		return r.Path, nil
	}
	var (
		l   routeLinks
		err error
	)
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{RouteLogin, &l.Login},
		{RouteSignUp, &l.SignUp},
		{RoutePasswordReset, &l.Reset},
		{RouteSignOut, &l.SignOut},
		{RouteDashboard, &l.Dashboard},
	} {
		if *f.dst, err = path(f.name); err != nil {
			return routeLinks{}, err
		}
	}
	return l, nil
}

func exact(path string) string {
	if path == "/" {
		return "/{$}"
	}
	return path
}

func (h *handler) observe(ctx context.Context, path string, d router.Decision) {
	var id string
	if st, ok := middleware.StoreFromContext(ctx); ok {
		id = st.ID()
	}
	h.engine.ObserveGuard(ctx, id, path, d.Redirect)
}

/*
====================================
PAGES
====================================
*/

func (h *handler) loginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get(middleware.NextParam)
	if !middleware.IsLocalPath(next) {
		next = ""
	}
	h.render(w, r, http.StatusOK, "login.html", h.form("Sign in", h.routes.GuestEntry, "", next))
}

func (h *handler) signUpPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signup.html", h.form("Create an account", PathSignUp, "", ""))
}

func (h *handler) resetPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "reset.html", h.form("Reset your password", PathPasswordReset, "", ""))
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, _ := middleware.StoreFromContext(ctx)
	u, err := st.FetchUser(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "fetch user failed, showing cached identity",
			"request_id", middleware.RequestIDFromContext(ctx),
			"error", err,
		)
		u = st.User()
	}
	h.render(w, r, http.StatusOK, "dashboard.html", h.dashboardView(u, ""))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

/*
====================================
ACTIONS
====================================
*/

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, password, ok := h.credentials(w, r)
	next := r.PostFormValue(middleware.NextParam)
	if !middleware.IsLocalPath(next) {
		next = ""
	}
	view := h.form("Sign in", h.routes.GuestEntry, email, next)
	if !ok {
		view.Error = msgMissingFields
		h.render(w, r, http.StatusUnprocessableEntity, "login.html", view)
		return
	}

	if err := h.engine.AllowAttempt(ctx, authgate.AttemptSignIn, email); err != nil {
		view.Error = msgRateLimited
		h.render(w, r, http.StatusTooManyRequests, "login.html", view)
		return
	}

	st, _ := middleware.StoreFromContext(ctx)
	if _, err := st.SignIn(ctx, email, password); err != nil {
		status, msg := http.StatusUnprocessableEntity, msgUnavailable
		if rejectedByProvider(err) {
			msg = msgInvalidCredentials
			if hasCode(err, "email_not_confirmed") {
				msg = msgUnconfirmed
			}
			if errors.Is(h.engine.RecordFailedAttempt(ctx, authgate.AttemptSignIn, email), authgate.ErrRateLimited) {
				status, msg = http.StatusTooManyRequests, msgRateLimited
			}
		} else {
			h.logger.WarnContext(ctx, "sign-in failed", "error", err)
		}
		view.Error = msg
		h.render(w, r, status, "login.html", view)
		return
	}

	h.engine.ClearAttempts(ctx, authgate.AttemptSignIn, email)
	target := h.routes.AuthLanding
	if next != "" {
		target = next
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email, password, ok := h.credentials(w, r)
	view := h.form("Create an account", PathSignUp, email, "")
	if !ok {
		view.Error = msgMissingFields
		h.render(w, r, http.StatusUnprocessableEntity, "signup.html", view)
		return
	}

	if err := h.engine.AllowAttempt(ctx, authgate.AttemptSignUp, email); err != nil {
		view.Error = msgRateLimited
		h.render(w, r, http.StatusTooManyRequests, "signup.html", view)
		return
	}

	st, _ := middleware.StoreFromContext(ctx)
	res, err := st.SignUp(ctx, email, password)
	if err != nil {
		status, msg := http.StatusUnprocessableEntity, msgUnavailable
		if rejectedByProvider(err) {
			msg = msgSignUpRejected
			if hasCode(err, "user_already_exists", "email_exists") {
				msg = msgDuplicate
			}
			if errors.Is(h.engine.RecordFailedAttempt(ctx, authgate.AttemptSignUp, email), authgate.ErrRateLimited) {
				status, msg = http.StatusTooManyRequests, msgRateLimited
			}
		} else {
			h.logger.WarnContext(ctx, "sign-up failed", "error", err)
		}
		view.Error = msg
		h.render(w, r, status, "signup.html", view)
		return
	}

	h.engine.ClearAttempts(ctx, authgate.AttemptSignUp, email)
	if res.ConfirmationRequired {
		view.Notice = msgConfirmEmail
		h.render(w, r, http.StatusOK, "signup.html", view)
		return
	}
	// The new session was persisted by the provider layer; reading it back
	// makes the store authenticated before the redirect lands.
	if err := st.Refresh(ctx); err != nil {
		h.logger.WarnContext(ctx, "sync after sign-up failed", "error", err)
	}
	http.Redirect(w, r, h.routes.AuthLanding, http.StatusSeeOther)
}

func (h *handler) requestReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := parseForm(w, r); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	view := h.form("Reset your password", PathPasswordReset, email, "")
	if email == "" {
		view.Error = "Email is required."
		h.render(w, r, http.StatusUnprocessableEntity, "reset.html", view)
		return
	}

	if err := h.engine.AllowAttempt(ctx, authgate.AttemptPasswordReset, email); err != nil {
		view.Error = msgRateLimited
		h.render(w, r, http.StatusTooManyRequests, "reset.html", view)
		return
	}
	// Every request counts, successful or not: each one may send an email.
	_ = h.engine.RecordFailedAttempt(ctx, authgate.AttemptPasswordReset, email)

	st, _ := middleware.StoreFromContext(ctx)
	if err := st.RequestPasswordReset(ctx, email); err != nil && !rejectedByProvider(err) {
		h.logger.WarnContext(ctx, "password reset request failed", "error", err)
		view.Error = msgUnavailable
		h.render(w, r, http.StatusUnprocessableEntity, "reset.html", view)
		return
	}
	view.Notice = msgResetSent
	h.render(w, r, http.StatusOK, "reset.html", view)
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, _ := middleware.StoreFromContext(ctx)
	if err := st.SignOut(ctx); err != nil {
		h.logger.WarnContext(ctx, "sign-out failed", "error", err)
		h.render(w, r, http.StatusUnprocessableEntity, "dashboard.html", h.dashboardView(st.User(), msgSignOutFailed))
		return
	}
	http.Redirect(w, r, h.routes.GuestEntry, http.StatusSeeOther)
}

/*
====================================
HELPERS
====================================
*/

func (h *handler) credentials(w http.ResponseWriter, r *http.Request) (email, password string, ok bool) {
	if err := parseForm(w, r); err != nil {
		return "", "", false
	}
	email = strings.TrimSpace(r.PostFormValue("email"))
	password = r.PostFormValue("password")
	return email, password, email != "" && password != ""
}

// maxFormBytes caps every form body.
const maxFormBytes = 64 << 10

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseForm()
}

func (h *handler) form(title, action, email, next string) formView {
	return formView{Title: title, Action: action, Email: email, Next: next, Links: h.links}
}

func (h *handler) dashboardView(u *provider.User, errMsg string) dashboardView {
	v := dashboardView{Title: "Dashboard", Error: errMsg, Links: h.links}
	if u != nil {
		v.Email = u.Email
		v.ID = u.ID
		v.Role = u.Role
		v.LastSignInAt = u.LastSignInAt
	}
	return v
}

func (h *handler) render(w http.ResponseWriter, r *http.Request, status int, name string, view any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, view); err != nil {
		h.logger.ErrorContext(r.Context(), "render page failed",
			"template", name,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
}

// rejectedByProvider reports whether the provider refused the request, as
// opposed to being unreachable, throttling or failing.
func rejectedByProvider(err error) bool {
	apiErr, ok := provider.AsAPIError(err)
	return ok && apiErr.IsRejection()
}

func hasCode(err error, codes ...string) bool {
	apiErr, ok := provider.AsAPIError(err)
	return ok && slices.Contains(codes, apiErr.Code)
}
