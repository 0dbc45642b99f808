package provider

import (
	"time"
)

// User is the identity record returned by the provider.
//
// The guard only cares whether a User is present; the remaining fields are
// carried through for views.
type User struct {
	ID                 string         `json:"id"`
	Aud                string         `json:"aud,omitempty"`
	Role               string         `json:"role,omitempty"`
	Email              string         `json:"email,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	EmailConfirmedAt   *time.Time     `json:"email_confirmed_at,omitempty"`
	ConfirmationSentAt *time.Time     `json:"confirmation_sent_at,omitempty"`
	LastSignInAt       *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	AppMetadata        map[string]any `json:"app_metadata,omitempty"`
	UserMetadata       map[string]any `json:"user_metadata,omitempty"`
}

// Session is a provider-issued token pair plus the identity it belongs to.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// Sessions without a known expiry are treated as expired.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt <= 0 {
		return true
	}
	return !now.Add(margin).Before(time.Unix(s.ExpiresAt, 0))
}

// Clone returns a deep-enough copy for handing to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return &out
}

// SignUpResponse is the normalized result of a sign-up call.
//
// Session is nil when the provider requires e-mail confirmation before the
// first sign-in, which is the common case.
type SignUpResponse struct {
	User    *User
	Session *Session
}

// EventType names a provider state change.
type EventType string

const (
	// EventSignedIn is published after a password sign-in, or a sign-up that
	// returned a session.
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut is published after sign-out or after the provider
	// rejected a refresh.
	EventSignedOut EventType = "SIGNED_OUT"
	// EventTokenRefreshed is published after a successful refresh grant.
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is one published state change.
type Event struct {
	Type    EventType
	Session *Session
	Seq     uint64
}

// Snapshot is the actor's session as of sequence Seq.
type Snapshot struct {
	Session *Session
	Seq     uint64
}

// User returns the snapshot identity, or nil when signed out.
func (s Snapshot) User() *User {
	if s.Session == nil {
		return nil
	}
	return s.Session.User
}
