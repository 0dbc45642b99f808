// Package provider talks to a hosted, GoTrue-compatible authentication service.
//
// Two layers live here:
//
//   - [Client] is a stateless HTTP client for the provider REST endpoints
//     (sign-up, password grant, refresh grant, logout, user, recover, health).
//     It is safe for concurrent use and is shared by every actor.
//   - [Auth] is the stateful handle for one actor. It persists the actor's
//     provider [Session] through a [Storage], refreshes it when the access
//     token is about to expire, and publishes every state change as an
//     [Event] to subscribers obtained from [Auth.OnAuthStateChange].
//
// # Ordering
//
// Every state change performed by an [Auth] is numbered. The sequence number
// is returned to the caller in a [Snapshot] and carried by the published
// [Event], so consumers can discard changes older than what they already
// applied.
//
// # What this package must NOT do
//
//   - Hold references to HTTP requests or browser cookies.
//   - Decide routing or access policy.
//   - Classify provider failures beyond [APIError].
package provider
