package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrMissingURL is returned by NewClient when no provider URL is configured.
	ErrMissingURL = errors.New("provider url is required")
	// ErrMissingAPIKey is returned by NewClient when no API key is configured.
	ErrMissingAPIKey = errors.New("provider api key is required")
	// ErrNoSession is returned when an operation needs a stored session and
	// none exists.
	ErrNoSession = errors.New("no provider session")
	// ErrNoUser is returned when the provider answers a sign-in without an identity.
	ErrNoUser = errors.New("provider response carried no user")
	// ErrTokenRejected is returned when an issued access token fails local inspection.
	ErrTokenRejected = errors.New("provider access token rejected")
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("provider: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider: status %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsClientError reports whether the provider rejected the request itself
// (4xx) as opposed to failing to serve it.
func (e *APIError) IsClientError() bool {
	return e != nil && e.Status >= 400 && e.Status < 500
}

// IsRejection reports whether the provider refused the request on its
// merits. Throttling (429) and request timeouts (408) are 4xx answers that
// say nothing about the credentials or tokens and are not rejections.
func (e *APIError) IsRejection() bool {
	if !e.IsClientError() {
		return false
	}
	return e.Status != http.StatusTooManyRequests && e.Status != http.StatusRequestTimeout
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorBody covers both error shapes the provider has shipped:
// {"code":400,"error_code":"...","msg":"..."} and
// {"error":"...","error_description":"..."}.
type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeAPIError(resp *http.Response) *APIError {
	out := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		out.Code = firstNonEmpty(body.ErrorCode, body.Error)
		out.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription)
	}
	if out.Message == "" {
		out.Message = strings.ToLower(http.StatusText(resp.StatusCode))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
