package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method selects how access token signatures are checked.
type Method string

const (
	// MethodHS256 verifies with the shared project secret.
	MethodHS256 Method = "hs256"
	// MethodEd25519 verifies with an Ed25519 public key.
	MethodEd25519 Method = "ed25519"
	// MethodNone decodes tokens without verifying signatures.
	MethodNone Method = "none"
)

var (
	// ErrMissingExpiry is returned for tokens without an exp claim.
	ErrMissingExpiry = errors.New("token has no expiry")
	// ErrIssuerMismatch is returned when the iss claim is not the configured issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrAudienceMismatch is returned when the aud claim lacks the configured audience.
	ErrAudienceMismatch = errors.New("token audience mismatch")
)

// Config configures an [Inspector].
type Config struct {
	Method    Method
	Secret    []byte
	PublicKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// AccessClaims are the provider claims the front end reads.
type AccessClaims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AAL       string `json:"aal,omitempty"`
	jwt.RegisteredClaims
}

// Inspector decodes and checks provider access tokens.
//
// Inspector is immutable after construction and safe for concurrent use.
type Inspector struct {
	config    Config
	verifyKey any
}

// NewInspector validates cfg and returns an inspector.
func NewInspector(cfg Config) (*Inspector, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)

	in := &Inspector{config: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("hs256 requires secret")
		}
		in.verifyKey = cfg.Secret
	case MethodEd25519:
		key, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		in.verifyKey = key
	case MethodNone:
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Method)
	}
	return in, nil
}

// Inspect returns the claims of token after checking its signature, issuer
// and audience. Expired tokens are returned, not rejected: callers decide
// whether to refresh.
func (i *Inspector) Inspect(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if i.config.Method == MethodNone {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, err
		}
	} else {
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{i.alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return i.verifyKey, nil
		}); err != nil {
			return nil, err
		}
	}

	if claims.ExpiresAt == nil {
		return nil, ErrMissingExpiry
	}
	if i.config.Issuer != "" && claims.Issuer != i.config.Issuer {
		return nil, ErrIssuerMismatch
	}
	if i.config.Audience != "" && !slices.Contains(claims.Audience, i.config.Audience) {
		return nil, ErrAudienceMismatch
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of token pulled forward by the configured
// leeway, so callers treat a token as expired before the provider does.
func (i *Inspector) ExpiresAt(token string) (time.Time, error) {
	claims, err := i.Inspect(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Add(-i.config.Leeway), nil
}

func (i *Inspector) alg() string {
	if i.config.Method == MethodHS256 {
		return jwt.SigningMethodHS256.Alg()
	}
	return jwt.SigningMethodEdDSA.Alg()
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	if len(key) == 0 {
		return nil, errors.New("ed25519 requires public key")
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
