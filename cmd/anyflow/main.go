// Package main provides the anyflow command line client.
package main

import (
	"context"
	"os"

	"github.com/dukex/anyflow/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "anyflow",
		Usage:                 "Create, inspect and validate flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL: memory, a directory, postgres://, sqlite://, redis:// or https://",
				Value:   "./flows",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "database-api-key",
				Usage:   "API key for a hosted persistence backend",
				Sources: cli.EnvVars("DATABASE_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Act as this principal without a token (local backends only)",
				Sources: cli.EnvVars("ANYFLOW_USER"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token identifying the caller",
				Sources: cli.EnvVars("ANYFLOW_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Usage:   "Secret used to sign and verify bearer tokens",
				Sources: cli.EnvVars("JWT_SECRET"),
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Usage:   "Issuer claim of bearer tokens",
				Value:   "anyflow",
				Sources: cli.EnvVars("JWT_ISSUER"),
			},
			&cli.StringFlag{
				Name:    "node-types-path",
				Usage:   "Directory with extra node type definitions (YAML)",
				Sources: cli.EnvVars("NODE_TYPES_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			flowsCommand(),
			tokenCommand(),
			validateCommand(),
			nodeTypesCommand(),
		},
	}
}
