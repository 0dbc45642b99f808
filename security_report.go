package authgate

import (
	"time"

	"github.com/MrEthical07/authgate/jwt"
)

// SecurityReport summarizes the security-relevant settings of a running
// engine, for startup logs and health pages.
type SecurityReport struct {
	ProviderURL        string
	TokenVerification  jwt.Method
	IssuerPinned       bool
	AudiencePinned     bool
	RefreshMargin      time.Duration
	SessionLifetime    time.Duration
	SlidingSessions    bool
	SecureCookies      bool
	RateLimitingActive bool
	IPThrottleActive   bool
	AuditActive        bool
	LintFindings       []string
}

// SecurityReport summarizes the effective security posture of e.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return SecurityReport{
		ProviderURL:        cfg.Provider.URL,
		TokenVerification:  inspectorConfig(cfg.Provider).Method,
		IssuerPinned:       cfg.Provider.JWTIssuer != "",
		AudiencePinned:     cfg.Provider.JWTAudience != "",
		RefreshMargin:      cfg.Provider.RefreshMargin,
		SessionLifetime:    cfg.Session.Lifetime,
		SlidingSessions:    cfg.Session.SlidingExpiration,
		SecureCookies:      cfg.Session.SecureCookies,
		RateLimitingActive: cfg.RateLimit.Enabled,
		IPThrottleActive:   cfg.RateLimit.Enabled && cfg.RateLimit.EnableIPThrottle,
		AuditActive:        cfg.Audit.Enabled,
		LintFindings:       cfg.Lint().Codes(),
	}
}
