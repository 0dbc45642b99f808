package authgate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/provider"
	"github.com/MrEthical07/authgate/session"
)

const (
	auditEventSignUpSuccess         = "sign_up_success"
	auditEventSignUpFailure         = "sign_up_failure"
	auditEventSignInSuccess         = "sign_in_success"
	auditEventSignInFailure         = "sign_in_failure"
	auditEventSignOutSuccess        = "sign_out_success"
	auditEventSignOutFailure        = "sign_out_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventProviderSignedIn      = "provider_signed_in"
	auditEventProviderSignedOut     = "provider_signed_out"
	auditEventProviderTokenRefresh  = "provider_token_refreshed"
	auditEventGuardRedirect         = "guard_redirect"
	auditEventStoreEvicted          = "store_evicted"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventInitializeFailure     = "initialize_failure"
	auditEventBackgroundRefreshFail = "background_refresh_failure"
)

// AuditErrorCode is the coarse failure class recorded on audit events.
// Provider messages are never copied into events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnconfirmed        AuditErrorCode = "email_not_confirmed"
	auditErrRejected           AuditErrorCode = "provider_rejected"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit is shared by the Engine and its Stores; d may be nil.
func emitAudit(
	ctx context.Context,
	d *auditDispatcher,
	eventType string,
	success bool,
	userID string,
	browserSessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if d == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: browserSessionID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	d.Emit(ctx, event)
}

// emitRateLimit records a throttled attempt. The event carries the
// identifier's counter so IP throttling is visible as a low count.
func (e *Engine) emitRateLimit(ctx context.Context, kind AttemptKind, identifier string) {
	e.metrics.Inc(MetricRateLimitHit)
	emitAudit(ctx, e.audit, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		meta := map[string]string{"scope": string(kind)}
		if n, err := e.limiter.Attempts(ctx, kind.action(), identifier); err == nil {
			meta["attempts"] = strconv.Itoa(n)
		}
		return meta
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	if apiErr, ok := provider.AsAPIError(err); ok {
		switch {
		case apiErr.Code == "invalid_grant" || apiErr.Code == "invalid_credentials":
			return auditErrInvalidCredentials
		case apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists":
			return auditErrDuplicate
		case apiErr.Code == "email_not_confirmed":
			return auditErrUnconfirmed
		case apiErr.Status == http.StatusTooManyRequests:
			return auditErrRateLimited
		case apiErr.Status >= 500:
			return auditErrUnavailable
		default:
			return auditErrRejected
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, rate.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, provider.ErrTokenRejected), errors.Is(err, session.ErrCorruptSession):
		return auditErrInvalidToken
	case errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, rate.ErrRedisUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrUnavailable
	case errors.Is(err, ErrRemoteCall):
		// Transport failures carry no APIError.
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
