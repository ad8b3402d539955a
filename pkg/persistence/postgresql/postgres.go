// Package postgresql provides the PostgreSQL flow store.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// Dialect is the PostgreSQL flavour of the shared SQL flow store. Documents
// are kept in JSON columns, not JSONB, so that config key order survives.
var Dialect = &sqlbase.Dialect{
	Name: "postgres",
	MigrationsTableSQL: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
	Placeholder:   sqlbase.DollarPlaceholder,
	TimeValue:     func(t time.Time) any { return t.UTC() },
	DocumentValue: sqlbase.TextDocument,
	ReadDocument:  sqlbase.RawDocument,
	SnapshotValue: sqlbase.TextDocument,
	ReadSnapshot:  sqlbase.RawDocument,
	IsUniqueViolation: func(err error) bool {
		var pqErr *pq.Error

		return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
	},
}

const uniqueViolation = pq.ErrorCode("23505")

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	flowRepo *sqlbase.FlowRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("%w: failed to ping database: %w", persistence.ErrBackendUnavailable, err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, Dialect, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       database,
		logger:   logger,
		flowRepo: sqlbase.NewFlowRepository(database, Dialect, logger),
	}, nil
}

// FlowRepository returns the flow repository.
func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to ping database: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}
