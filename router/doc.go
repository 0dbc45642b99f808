// Package router classifies routes by access requirement and decides, per
// navigation, whether to allow it or redirect.
//
// A route requires authentication, requires a guest, or neither; never both.
// [Guard.Check] first waits for the session to finish initializing, then
// applies the requirement:
//
//   - [RequiresAuth] without a user redirects to the guest entry point.
//   - [RequiresGuest] with a user redirects to the authenticated landing page.
//   - Anything else is allowed.
//
// The package holds no session state and knows nothing about HTTP; the
// middleware package maps decisions onto responses.
package router
