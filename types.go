package authgate

import "github.com/MrEthical07/authgate/provider"

// State is a point-in-time view of one actor's auth state.
type State struct {
	// User is nil when nobody is signed in.
	User *provider.User
	// Loading is true while a SignUp or SignIn is in flight.
	Loading bool
	// Initialized becomes true after the first successful session fetch and
	// never reverts.
	Initialized bool
}

// Authenticated reports whether State carries a user.
func (s State) Authenticated() bool {
	return s.User != nil
}

// SignUpResult is the success variant of [Store.SignUp].
type SignUpResult struct {
	User *provider.User
	// Session is set only when the provider signs new users in immediately.
	Session *provider.Session
	// ConfirmationRequired is true when the user must confirm their e-mail
	// before signing in.
	ConfirmationRequired bool
}

// SignInResult is the success variant of [Store.SignIn].
type SignInResult struct {
	User    *provider.User
	Session *provider.Session
}
