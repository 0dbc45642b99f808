// Package session persists each browser's provider session in Redis.
//
// A browser is identified by an opaque browser session ID carried in a
// cookie. The provider tokens and user record for that browser are stored
// under <prefix>:<browserSessionID> with a TTL, so they survive process
// restarts and eviction of the in-memory auth store.
//
// # Binary encoding
//
// Values use a compact, versioned binary format (v1, v2). New versions
// append fields; Decode reads every known version.
//
// # What this package must NOT do
//
//   - Talk to the auth provider or refresh tokens.
//   - Make routing or access decisions.
package session
