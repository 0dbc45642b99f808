// Package jwt inspects access tokens issued by the auth provider.
//
// The provider signs tokens with a project secret (HS256) or an Ed25519 key.
// When neither is configured tokens can still be decoded without signature
// checks to learn their expiry, which is all the session refresh logic needs.
package jwt
