// Package auth defines the identity bridge the chat core consumes. The
// actual login flow (redirects, tokens) lives in the host application.
package auth

// Identity exposes the authenticated user, if any.
type Identity interface {
	// IsAuthenticated reports whether a user identity is available.
	IsAuthenticated() bool
	// UserID returns the stable user identifier, or "" when logged out.
	UserID() string
}

// StaticIdentity is a fixed identity, used by the demo binary and tests.
type StaticIdentity struct {
	ID string
}

func (s StaticIdentity) IsAuthenticated() bool { return s.ID != "" }
func (s StaticIdentity) UserID() string        { return s.ID }
