// Package providertest runs an in-process fake of the hosted auth provider
// REST API for tests.
package providertest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// APIKey is the anon key the fake server expects.
	APIKey = "test-anon-key"
	// Secret signs the HS256 access tokens the fake server issues.
	Secret = "test-jwt-secret-with-enough-entropy"
	// AuthPath is where the fake server mounts its routes.
	AuthPath = "/auth/v1"
)

type account struct {
	user     map[string]any
	password string
}

type failure struct {
	status int
	body   map[string]any
}

// Server is a fake provider. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	// AutoConfirm makes sign-up return a session instead of a bare user.
	AutoConfirm bool
	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration
	// Now is the server clock.
	Now func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	refresh  map[string]string
	revoked  map[string]bool
	calls    map[string]int
	failures map[string][]failure
	holds    map[string]chan struct{}
}

// New starts a fake provider that is closed with the test.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		AccessTTL: time.Hour,
		Now:       time.Now,
		accounts:  make(map[string]*account),
		refresh:   make(map[string]string),
		revoked:   make(map[string]bool),
		calls:     make(map[string]int),
		failures:  make(map[string][]failure),
		holds:     make(map[string]chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+AuthPath+"/signup", s.handleSignUp)
	mux.HandleFunc("POST "+AuthPath+"/token", s.handleToken)
	mux.HandleFunc("POST "+AuthPath+"/logout", s.handleLogout)
	mux.HandleFunc("GET "+AuthPath+"/user", s.handleUser)
	mux.HandleFunc("POST "+AuthPath+"/recover", s.handleRecover)
	mux.HandleFunc("GET "+AuthPath+"/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "GoTrue", "version": "fake"})
	})

	s.Server = httptest.NewServer(s.intercept(mux))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a confirmed identity and returns its ID.
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password)
}

func (s *Server) addUserLocked(email, password string) string {
	id := uuid.NewString()
	now := s.Now().UTC()
	s.accounts[strings.ToLower(email)] = &account{
		user: map[string]any{
			"id":                 id,
			"aud":                "authenticated",
			"role":               "authenticated",
			"email":              email,
			"email_confirmed_at": now,
			"created_at":         now,
			"updated_at":         now,
			"app_metadata":       map[string]any{"provider": "email"},
			"user_metadata":      map[string]any{},
		},
		password: password,
	}
	return id
}

// SetRole changes the role the provider reports for email.
func (s *Server) SetRole(email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct := s.accounts[strings.ToLower(email)]; acct != nil {
		acct.user["role"] = role
	}
}

// Calls reports how many requests reached the named endpoint, e.g.
// "POST /token".
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// FailNext makes the next request to endpoint answer status with a GoTrue
// style error body.
func (s *Server) FailNext(endpoint string, status int, code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], failure{
		status: status,
		body:   map[string]any{"code": status, "error_code": code, "msg": msg},
	})
}

// Hold blocks requests to endpoint until the returned release func is called.
func (s *Server) Hold(endpoint string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[endpoint] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, endpoint)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + strings.TrimPrefix(r.URL.Path, AuthPath)

		s.mu.Lock()
		s.calls[endpoint]++
		hold := s.holds[endpoint]
		var fail *failure
		if queued := s.failures[endpoint]; len(queued) > 0 {
			fail = &queued[0]
			s.failures[endpoint] = queued[1:]
		}
		s.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		if r.Header.Get("apikey") != APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
			return
		}
		if fail != nil {
			writeJSON(w, fail.status, fail.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "validation_failed", "msg": "email and password required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[strings.ToLower(in.Email)]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	s.addUserLocked(in.Email, in.Password)
	acct := s.accounts[strings.ToLower(in.Email)]
	if !s.AutoConfirm {
		delete(acct.user, "email_confirmed_at")
		acct.user["confirmation_sent_at"] = s.Now().UTC()
		writeJSON(w, http.StatusOK, acct.user)
		return
	}
	writeJSON(w, http.StatusOK, s.issueLocked(acct))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "error_description": "malformed body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		acct := s.accounts[strings.ToLower(in.Email)]
		if acct == nil || acct.password != in.Password {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		if _, confirmed := acct.user["email_confirmed_at"]; !confirmed {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "email_not_confirmed", "msg": "Email not confirmed"})
			return
		}
		writeJSON(w, http.StatusOK, s.issueLocked(acct))
	case "refresh_token":
		email, ok := s.refresh[in.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		delete(s.refresh, in.RefreshToken)
		writeJSON(w, http.StatusOK, s.issueLocked(s.accounts[email]))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type", "error_description": "unsupported grant type"})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.authorizeLocked(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}
	email, _ := claims["email"].(string)
	for token, owner := range s.refresh {
		if owner == strings.ToLower(email) {
			delete(s.refresh, token)
		}
	}
	if sid, _ := claims["session_id"].(string); sid != "" {
		s.revoked[sid] = true
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, ok := s.authorizeLocked(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}
	email, _ := claims["email"].(string)
	acct := s.accounts[strings.ToLower(email)]
	if acct == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error_code": "user_not_found", "msg": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "validation_failed", "msg": "email required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) issueLocked(acct *account) map[string]any {
	now := s.Now()
	exp := now.Add(s.AccessTTL)
	email, _ := acct.user["email"].(string)
	sessionID := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        acct.user["id"],
		"email":      email,
		"role":       "authenticated",
		"aud":        "authenticated",
		"session_id": sessionID,
		"aal":        "aal1",
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
	})
	signed, err := token.SignedString([]byte(Secret))
	if err != nil {
		panic(err)
	}

	refresh := randomToken()
	s.refresh[refresh] = strings.ToLower(email)

	return map[string]any{
		"access_token":  signed,
		"token_type":    "bearer",
		"expires_in":    int64(s.AccessTTL / time.Second),
		"expires_at":    exp.Unix(),
		"refresh_token": refresh,
		"user":          acct.user,
	}
}

func (s *Server) authorizeLocked(r *http.Request) (jwt.MapClaims, bool) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Now))
	if err != nil {
		return nil, false
	}
	if sid, _ := claims["session_id"].(string); s.revoked[sid] {
		return nil, false
	}
	return claims, true
}

func randomToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
