// Package rate provides Redis-backed fixed-window attempt counters for the
// credential forms: sign-in, sign-up and password-reset requests.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit. Keys:
//   - <prefix>:<action>:id:<identifier>: per e-mail address
//   - <prefix>:<action>:ip:<ip>        : per client IP, when enabled
//
// # What this package must NOT do
//
//   - Talk to the auth provider.
//   - Be imported outside the authgate module.
package rate
