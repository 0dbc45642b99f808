package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAuthPath is where GoTrue-compatible providers mount the auth API.
const DefaultAuthPath = "/auth/v1"

const maxResponseBody = 1 << 20

// Config configures a [Client].
type Config struct {
	// URL is the provider project URL, e.g. https://xyz.supabase.co.
	URL string
	// AuthPath is appended to URL. Empty means [DefaultAuthPath].
	AuthPath string
	// APIKey is the public (anon) key sent with every request.
	APIKey string
	// Timeout bounds a single provider call. Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a stateless client for the provider REST API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	now    func() time.Time
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, ErrMissingURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid provider url %q", rawURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	path := strings.TrimSpace(cfg.AuthPath)
	if path == "" {
		path = DefaultAuthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:   strings.TrimRight(rawURL, "/") + strings.TrimRight(path, "/"),
		apiKey: apiKey,
		http:   httpClient,
		now:    time.Now,
	}, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a new e-mail/password identity.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResponse, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", credentials{Email: email, Password: password}, &raw); err != nil {
		return nil, err
	}

	// Auto-confirming providers answer with a session, the others with the
	// bare user record.
	var shape struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("decode sign-up response: %w", err)
	}
	if shape.AccessToken != "" {
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("decode sign-up session: %w", err)
		}
		c.normalize(&sess)
		return &SignUpResponse{User: sess.User, Session: &sess}, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode sign-up user: %w", err)
	}
	return &SignUpResponse{User: &user}, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	query := url.Values{"grant_type": {"password"}}
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/token", query, "", credentials{Email: email, Password: password}, &sess); err != nil {
		return nil, err
	}
	if sess.User == nil {
		return nil, ErrNoUser
	}
	c.normalize(&sess)
	return &sess, nil
}

// RefreshSession exchanges a refresh token for a new session. Providers
// rotate refresh tokens, so the old one must not be reused.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/token", query, "", body, &sess); err != nil {
		return nil, err
	}
	if sess.User == nil {
		return nil, ErrNoUser
	}
	c.normalize(&sess)
	return &sess, nil
}

// Logout revokes the refresh tokens behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
}

// GetUser returns the identity behind accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Recover asks the provider to e-mail a password recovery link.
func (c *Client) Recover(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/recover", nil, "", map[string]string{"email": email}, nil)
}

// Health checks that the provider answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, "", nil, nil)
}

func (c *Client) normalize(sess *Session) {
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = c.now().Add(time.Duration(sess.ExpiresIn) * time.Second).Unix()
	}
	if sess.TokenType == "" {
		sess.TokenType = "bearer"
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
