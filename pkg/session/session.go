// Package session carries the caller's identity through a context. The token
// is opaque to the rest of the module: it is attached by the transport and
// forwarded as-is to backends that need it.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized indicates an absent or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Session identifies the principal issuing a request.
type Session struct {
	Token     string
	Principal string
	Username  string
	ExpiresAt time.Time // Zero means no expiry
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type contextKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)

	return s, ok && s != nil
}

// Require returns the session stored in ctx, or ErrUnauthorized when it is
// absent, has no principal or has expired.
func Require(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok || s.Principal == "" {
		return nil, ErrUnauthorized
	}

	if s.Expired(time.Now()) {
		return nil, ErrUnauthorized
	}

	return s, nil
}
