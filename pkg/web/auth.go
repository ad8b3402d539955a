package web

import (
	"context"
	"errors"

	"github.com/dukex/anyflow/pkg/session"
	"github.com/gofiber/fiber/v3"
)

const sessionLocalKey = "anyflow.session"

var errInvalidJSON = errors.New("invalid JSON format")

// Authenticator turns a bearer token into a session.
type Authenticator interface {
	Authenticate(token string) (*session.Session, error)
}

// RequireSession rejects requests without a valid bearer token and keeps
// the session for the handlers.
func RequireSession(auth Authenticator) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := session.ExtractBearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return unauthorized(c, "missing bearer token")
		}

		s, err := auth.Authenticate(token)
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(sessionLocalKey, s)

		return c.Next()
	}
}

// requestContext returns the request context carrying the caller's session.
func requestContext(c fiber.Ctx) context.Context {
	var ctx context.Context = c.Context()

	if s, ok := c.Locals(sessionLocalKey).(*session.Session); ok {
		return session.WithSession(ctx, s)
	}

	return ctx
}
