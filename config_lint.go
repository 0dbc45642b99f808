package authgate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is one finding of [Config.Lint].
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes lists the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins the warnings at or above min into one error, or returns nil.
func (ws LintWarnings) AsError(min LintSeverity) error {
	var errs []error
	for _, w := range ws.BySeverity(min) {
		errs = append(errs, fmt.Errorf("%s [%s]: %s", w.Code, w.Severity, w.Message))
	}
	return errors.Join(errs...)
}

// Lint reports settings that are valid but risky. Unlike Validate it never
// blocks startup by itself.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if u, err := url.Parse(c.Provider.URL); err == nil && u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		add("provider_plaintext", LintHigh, "provider URL uses plain http; tokens travel unencrypted")
	}
	if !c.Session.SecureCookies {
		add("cookies_insecure", LintWarn, "session cookie is sent over plain http")
	}
	if len(c.Provider.JWTSecret) == 0 && len(c.Provider.JWTPublicKey) == 0 {
		add("jwt_unverified", LintInfo, "access tokens are decoded without signature verification")
	}
	if len(c.Provider.JWTSecret) > 0 && len(c.Provider.JWTSecret) < 32 {
		add("jwt_secret_short", LintWarn, "JWT secret shorter than 256 bits")
	}
	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintHigh, "credential forms are not throttled")
	} else if !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "attempts are throttled per e-mail only")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not emitted")
	}
	if c.Provider.RefreshMargin > 5*time.Minute {
		add("refresh_margin_large", LintWarn, "sessions refresh more than five minutes before expiry")
	}
	if c.Session.IdleTTL > c.Session.Lifetime {
		add("idle_exceeds_lifetime", LintWarn, "in-memory stores outlive their persisted sessions")
	}
	if c.Session.SweepInterval > c.Session.IdleTTL {
		add("sweep_slower_than_idle", LintInfo, "idle stores are evicted later than IdleTTL")
	}

	return ws
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
