package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/persistence/file"
	"github.com/dukex/anyflow/pkg/persistence/hosted"
	"github.com/dukex/anyflow/pkg/persistence/memory"
	"github.com/dukex/anyflow/pkg/persistence/postgresql"
	"github.com/dukex/anyflow/pkg/persistence/redis"
	"github.com/dukex/anyflow/pkg/persistence/sqlite"
)

var (
	ErrUnsupportedPersistence = errors.New("unsupported persistence provider")
	ErrUnsupportedEventBus    = errors.New("unsupported event bus provider")
)

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql", "sqlite", "redis", "http", "https"}

// PersistenceOptions carries settings only some backends need.
type PersistenceOptions struct {
	// APIKey is sent to the hosted backend with every request.
	APIKey string
}

// NewPersistence opens the backend named by the scheme of databaseURL. A
// URL without a scheme is a file backend rooted at that path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, opts PersistenceOptions) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return open(postgresql.NewPersistence(ctx, logger, databaseURL))
	case "sqlite":
		return open(sqlite.NewPersistence(ctx, logger, strings.TrimPrefix(databaseURL, "sqlite://")))
	case "redis":
		return open(redis.NewPersistence(ctx, logger, databaseURL))
	case "http", "https":
		return open(hosted.NewPersistence(logger, databaseURL, opts.APIKey))
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

// IsHostedPersistence reports whether databaseURL names the hosted backend,
// which authorizes every request with the caller's own bearer token.
func IsHostedPersistence(databaseURL string) bool {
	provider, err := parsePersistenceProvider(databaseURL)

	return err == nil && (provider == "http" || provider == "https")
}

// open keeps a failed constructor from producing a non-nil interface.
func open[P persistence.Persistence](p P, err error) (persistence.Persistence, error) {
	if err != nil {
		return nil, err
	}

	return p, nil
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		if databaseURL == "memory" {
			return "memory", nil
		}

		return "file", nil
	}

	for _, supported := range supportedPersistenceProviders {
		if scheme == supported {
			return scheme, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedPersistence, scheme)
}
