// Package sqlite provides a single-file flow store on SQLite. Version
// snapshots are kept zstd-compressed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/persistence/sqlbase"
	"github.com/klauspost/compress/zstd"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Dialect is the SQLite flavour of the shared SQL flow store. Times are
// stored as fixed-width UTC text so that ORDER BY follows time order.
var Dialect = &sqlbase.Dialect{
	Name: "sqlite",
	MigrationsTableSQL: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	TimeValue:     sqlbase.SortableTime,
	DocumentValue: sqlbase.TextDocument,
	ReadDocument:  sqlbase.RawDocument,
	SnapshotValue: compress,
	ReadSnapshot:  decompress,
	IsUniqueViolation: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}

		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

func compress(doc []byte) (any, error) {
	return encoder.EncodeAll(doc, make([]byte, 0, len(doc)/2)), nil
}

func decompress(raw []byte) ([]byte, error) {
	data, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}

	return data, nil
}

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	flowRepo *sqlbase.FlowRepository
}

// NewPersistence opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive and shared.
	database.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := database.ExecContext(ctx, pragma); err != nil {
			_ = database.Close()

			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	err = sqlbase.NewMigrationManager(logger, database, Dialect, migrations()).RunMigrations(ctx)
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

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite: %w", err)
	}

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				name TEXT NOT NULL,
				version TEXT NOT NULL,
				document TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			CREATE INDEX idx_flows_owner ON flows(owner);
			CREATE INDEX idx_flows_owner_name ON flows(owner, name);
		`,
		2: `
			CREATE TABLE flow_versions (
				id TEXT PRIMARY KEY,
				flow_id TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				number INTEGER NOT NULL,
				version TEXT NOT NULL,
				checksum TEXT NOT NULL,
				document BLOB NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE (flow_id, number)
			);

			CREATE INDEX idx_flow_versions_flow_id ON flow_versions(flow_id);
		`,
	}
}
