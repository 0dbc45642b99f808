package authgate

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteCall matches every failure of a call to the auth provider.
	ErrRemoteCall = errors.New("remote auth call failed")
	// ErrEngineNotReady is returned by a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreClosed is returned by a store after Close.
	ErrStoreClosed = errors.New("auth store closed")
	// ErrInvalidBrowserSession is returned for browser session IDs that are not UUIDs.
	ErrInvalidBrowserSession = errors.New("invalid browser session id")
	// ErrRateLimited is returned when a credential form was submitted too often.
	ErrRateLimited = errors.New("too many attempts")
)

// Op names a store operation that reached the provider.
type Op string

const (
	OpInitialize    Op = "initialize"
	OpSignUp        Op = "sign_up"
	OpSignIn        Op = "sign_in"
	OpSignOut       Op = "sign_out"
	OpPasswordReset Op = "password_reset"
	OpRefresh       Op = "refresh"
	OpGetUser       Op = "get_user"
)

// RemoteCallError is the failure variant of every Store operation.
//
// Transport errors, provider rejections and storage failures all surface as
// a RemoteCallError; callers that need detail can unwrap Err.
type RemoteCallError struct {
	Op  Op
	Err error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrRemoteCall and the cause to errors.Is/As.
func (e *RemoteCallError) Unwrap() []error {
	return []error{ErrRemoteCall, e.Err}
}

func remoteErr(op Op, err error) error {
	return &RemoteCallError{Op: op, Err: err}
}
