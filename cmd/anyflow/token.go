package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/anyflow/pkg/session"
	cli "github.com/urfave/cli/v3"
)

var errNoSecret = errors.New("--jwt-secret is required to issue tokens")

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage bearer tokens",
		Commands: []*cli.Command{
			{
				Name:      "issue",
				Usage:     "Issue a bearer token for a principal",
				ArgsUsage: "<principal>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Usage: "Display name carried in the token"},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
				},
				Action: func(_ context.Context, command *cli.Command) error {
					principal, err := argument(command, 0, "principal")
					if err != nil {
						return err
					}

					secret := command.String("jwt-secret")
					if secret == "" {
						return errNoSecret
					}

					username := command.String("username")
					if username == "" {
						username = principal
					}

					tokens := session.NewTokenService([]byte(secret), command.String("jwt-issuer"), command.Duration("ttl"))

					token, err := tokens.Issue(principal, username)
					if err != nil {
						return fmt.Errorf("failed to sign token: %w", err)
					}

					return printBytes(command, []byte(token))
				},
			},
		},
	}
}
