// Package authgate holds the per-browser auth state of a web front end whose
// identities live in a hosted, GoTrue-compatible auth provider.
//
// Every browser is identified by an opaque browser session ID. For each ID the
// [Engine] keeps one [Store]: a small state holder exposing the current user,
// whether a sign-in or sign-up is in flight, and whether the initial session
// fetch has completed. Stores proxy sign-up, sign-in, sign-out and password
// recovery to the provider and report every provider failure as a single
// error kind, [*RemoteCallError].
//
// The package is designed for concurrent server workloads: Engine and Store
// methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the state surface. Provider HTTP lives in provider/, session
// persistence in session/, routing policy in router/ and HTTP adapters in
// middleware/ and web/. Rate limiting and logging helpers live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Render HTML or read HTTP requests.
//   - Decide which routes require authentication.
//   - Import router, middleware or web (no import cycles).
package authgate
