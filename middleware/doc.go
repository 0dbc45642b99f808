// Package middleware maps authgate stores and router decisions onto HTTP.
//
// # Handlers
//
//   - [Session] resolves the browser session cookie to the per-actor
//     [authgate.Store] and injects it into the request context.
//   - [Guard] runs a [router.Guard] check and turns redirects into 302/303
//     responses.
//   - [RequestID], [RecoverPanic], [RequestLogger] and [ClientIP] are the
//     ambient request wrappers; [Chain] composes them in declaration order.
//
// # Boundaries
//
// This package never talks to the provider or Redis directly. Store lookup
// goes through the Engine, decisions through the router package.
package middleware
