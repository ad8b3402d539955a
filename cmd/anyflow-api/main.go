package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dukex/anyflow/pkg/cmd"
	"github.com/dukex/anyflow/pkg/log"
	"github.com/dukex/anyflow/pkg/otelhelper"
	"github.com/dukex/anyflow/pkg/session"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort     = 9091
	defaultTokenTTL = 24 * time.Hour
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "anyflow-api",
		Usage:                 "Serve the flow API",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing anyflow API")

			registry, err := cmd.NewRegistry(ctx, logger, command.String("node-types-path"))
			if err != nil {
				return fmt.Errorf("failed to load node types: %w", err)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), cmd.PersistenceOptions{
				APIKey: command.String("database-api-key"),
			})
			if err != nil {
				return fmt.Errorf("failed to open persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if command.Bool("log-events") {
				if err := NewFlowEventLog(eventBus, logger).Start(ctx); err != nil {
					return err
				}
			}

			var tracer trace.Tracer

			if command.Bool("otel-enabled") {
				var shutdown func(context.Context) error

				tracer, shutdown, err = otelhelper.NewTracer(ctx, "anyflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			tokens := session.NewTokenService(
				[]byte(command.String("jwt-secret")),
				command.String("jwt-issuer"),
				command.Duration("token-ttl"),
			)

			api := NewAPI(logger, persistence, registry, eventBus, tokens, tracer)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("api").Error("anyflow API stopped", "error", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL: memory, a directory, postgres://, sqlite://, redis:// or https://",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "database-api-key",
			Usage:   "API key for a hosted persistence backend",
			Sources: cli.EnvVars("DATABASE_API_KEY"),
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "Secret used to sign and verify bearer tokens",
			Required: true,
			Sources:  cli.EnvVars("JWT_SECRET"),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "Issuer claim expected in bearer tokens",
			Value:   "anyflow",
			Sources: cli.EnvVars("JWT_ISSUER"),
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Usage:   "Lifetime of issued bearer tokens",
			Value:   defaultTokenTTL,
			Sources: cli.EnvVars("TOKEN_TTL"),
		},
		&cli.StringFlag{
			Name:    "node-types-path",
			Usage:   "Directory with extra node type definitions (YAML)",
			Sources: cli.EnvVars("NODE_TYPES_PATH"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "log-events",
			Usage:   "Log flow lifecycle events read back from the event bus",
			Value:   true,
			Sources: cli.EnvVars("LOG_EVENTS"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
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
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}
