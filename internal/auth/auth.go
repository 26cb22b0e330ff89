// Package auth defines the token provider contract the streaming client
// uses to authenticate against the agent backend. Token acquisition itself
// (refresh flows, identity providers) lives with the embedding application;
// the client only asks for a token and injects it as a bearer header.
package auth

import (
	"context"
	"net/http"
)

// TokenProvider supplies bearer tokens. Implementations may return an empty
// token to indicate unauthenticated access; forceRefresh asks the provider
// to bypass any cached token.
type TokenProvider interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Static is a TokenProvider that always returns a fixed token. Useful for
// development and tests.
type Static string

// Token implements TokenProvider.
func (s Static) Token(_ context.Context, _ bool) (string, error) {
	return string(s), nil
}

// Authorize sets the Authorization header on req when token is non-empty.
func Authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
