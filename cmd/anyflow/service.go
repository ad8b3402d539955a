package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/anyflow/pkg/cmd"
	"github.com/dukex/anyflow/pkg/log"
	"github.com/dukex/anyflow/pkg/services"
	"github.com/dukex/anyflow/pkg/session"
	cli "github.com/urfave/cli/v3"
)

var (
	errNoIdentity       = errors.New("either --user or --token with --jwt-secret is required")
	errHostedNeedsToken = errors.New("the hosted backend needs a real --token; --user is only for local backends")
)

// localSessionTTL bounds a session built from --user.
const localSessionTTL = time.Hour

// openService opens the configured backend and returns a flow service and a
// context carrying the caller's session. The returned func closes the backend.
func openService(ctx context.Context, command *cli.Command) (*services.Flow, context.Context, func(), error) {
	logger := log.WithModule("cli")

	s, err := callerSession(command)
	if err != nil {
		return nil, nil, nil, err
	}

	reg, err := cmd.NewRegistry(ctx, logger, command.String("node-types-path"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load node types: %w", err)
	}

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), cmd.PersistenceOptions{
		APIKey: command.String("database-api-key"),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	closeFn := func() {
		if err := p.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	return services.NewFlow(p, reg, logger), session.WithSession(ctx, s), closeFn, nil
}

func callerSession(command *cli.Command) (*session.Session, error) {
	if token := command.String("token"); token != "" {
		secret := command.String("jwt-secret")
		if secret == "" {
			return nil, errNoIdentity
		}

		tokens := session.NewTokenService([]byte(secret), command.String("jwt-issuer"), 0)

		return tokens.Authenticate(token)
	}

	user := command.String("user")
	if user == "" {
		return nil, errNoIdentity
	}

	if cmd.IsHostedPersistence(command.String("database-url")) {
		return nil, errHostedNeedsToken
	}

	return &session.Session{
		Token:     "local",
		Principal: user,
		Username:  user,
		ExpiresAt: time.Now().Add(localSessionTTL),
	}, nil
}
