package web

import (
	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/router"
)

// Fixed paths. The guest entry and authenticated landing paths come from
// [authgate.RoutesConfig].
const (
	PathHome          = "/"
	PathSignUp        = "/signup"
	PathPasswordReset = "/reset-password"
	PathSignOut       = "/logout"
	PathHealth        = "/healthz"
	PathMetrics       = "/metrics"
)

// Route names.
const (
	RouteHome          = "home"
	RouteLogin         = "login"
	RouteSignUp        = "signup"
	RoutePasswordReset = "reset-password"
	RouteSignOut       = "logout"
	RouteDashboard     = "dashboard"
	RouteHealth        = "healthz"
	RouteMetrics       = "metrics"
)

// Routes returns the route table for cfg.
func Routes(cfg authgate.RoutesConfig) (*router.Table, error) {
	return router.NewTable(
		router.Route{Path: PathHome, Name: RouteHome, Redirect: cfg.GuestEntry},
		router.Route{Path: cfg.GuestEntry, Name: RouteLogin, Meta: router.Meta{RequiresGuest: true}},
		router.Route{Path: PathSignUp, Name: RouteSignUp, Meta: router.Meta{RequiresGuest: true}},
		router.Route{Path: PathPasswordReset, Name: RoutePasswordReset, Meta: router.Meta{RequiresGuest: true}},
		router.Route{Path: PathSignOut, Name: RouteSignOut, Meta: router.Meta{RequiresAuth: true}},
		router.Route{Path: cfg.AuthLanding, Name: RouteDashboard, Meta: router.Meta{RequiresAuth: true}},
		router.Route{Path: PathHealth, Name: RouteHealth},
		router.Route{Path: PathMetrics, Name: RouteMetrics},
	)
}
