// Package web serves the browser-facing pages: sign-in, sign-up, password
// reset, sign-out and the authenticated dashboard, each behind the route
// guard, plus health and metrics endpoints.
package web
