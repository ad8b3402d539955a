package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
)

// sortColumns maps the allowlisted sort fields onto columns.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

// FlowRepository stores whole flow documents in a "flows" table and their
// snapshots in "flow_versions". It works on any database a Dialect describes.
type FlowRepository struct {
	db      *sql.DB
	dialect *Dialect
	logger  *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, dialect *Dialect, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, dialect: dialect, logger: logger}
}

func (r *FlowRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

// Create inserts a new flow.
func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	if err := persistence.PrepareCreate(ctx, flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	doc, err := r.encodeFlow(flow)
	if err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	result, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO flows (id, owner, name, version, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		flow.ID, flow.Owner, flow.Name, flow.Version, doc,
		r.dialect.TimeValue(flow.CreatedAt), r.dialect.TimeValue(flow.UpdatedAt),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert flow", "flow_id", flow.ID, "error", err)

		return persistence.Unavailable("Create", flow.ID, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
	}

	return nil
}

// Save replaces the document of an existing flow owned by the caller.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	existing, err := r.GetByID(ctx, flow.ID)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, errors.Unwrap(err))
	}

	flow.Owner = owner
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	doc, err := r.encodeFlow(flow)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	result, err := r.db.ExecContext(ctx, r.q(`
		UPDATE flows SET name = ?, version = ?, document = ?, updated_at = ?
		WHERE id = ? AND owner = ?`),
		flow.Name, flow.Version, doc, r.dialect.TimeValue(flow.UpdatedAt), flow.ID, owner,
	)
	if err != nil {
		return persistence.Unavailable("Save", flow.ID, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrFlowNotFound)
	}

	return nil
}

// GetByID retrieves a flow owned by the caller.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT document, created_at, updated_at FROM flows WHERE id = ? AND owner = ?`), id, owner)

	flow, err := r.scanFlow(row)
	if err != nil {
		return nil, r.readError("GetByID", id, err)
	}

	return flow, nil
}

// GetByName retrieves the oldest flow with the given name.
func (r *FlowRepository) GetByName(ctx context.Context, name string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT document, created_at, updated_at FROM flows
		WHERE owner = ? AND name = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`), owner, name)

	flow, err := r.scanFlow(row)
	if err != nil {
		return nil, r.readError("GetByName", "", err)
	}

	return flow, nil
}

// List returns one page of the caller's flow summaries.
func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	if err := opts.Normalize(); err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	var total int64

	err = r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM flows WHERE owner = ?`), owner).Scan(&total)
	if err != nil {
		return nil, persistence.Unavailable("List", "", err)
	}

	// Column and direction come from the allowlist checked by Normalize.
	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, owner, name, version, created_at, updated_at FROM flows
		WHERE owner = ?
		ORDER BY %s %s, id %s
		LIMIT ? OFFSET ?`, sortColumns[opts.SortBy], direction, direction)

	rows, err := r.db.QueryContext(ctx, r.q(query), owner, opts.Limit, opts.Offset)
	if err != nil {
		return nil, persistence.Unavailable("List", "", err)
	}
	defer rows.Close()

	summaries := make([]models.FlowSummary, 0, opts.Limit)

	for rows.Next() {
		var (
			summary          models.FlowSummary
			created, updated timestamp
		)

		if err := rows.Scan(&summary.ID, &summary.Owner, &summary.Name, &summary.Version, &created, &updated); err != nil {
			return nil, persistence.NewFlowError("List", "", fmt.Errorf("failed to scan flow summary: %w", err))
		}

		summary.CreatedAt = created.Time
		summary.UpdatedAt = updated.Time
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.Unavailable("List", "", err)
	}

	return &persistence.FlowListResult{
		Flows:       summaries,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(summaries)) < total,
	}, nil
}

// Delete removes a flow and its versions in one transaction.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.Unavailable("Delete", id, err)
	}

	result, err := tx.ExecContext(ctx, r.q(`DELETE FROM flows WHERE id = ? AND owner = ?`), id, owner)
	if err != nil {
		_ = tx.Rollback()

		return persistence.Unavailable("Delete", id, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()

		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM flow_versions WHERE flow_id = ?`), id); err != nil {
		_ = tx.Rollback()

		return persistence.Unavailable("Delete", id, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.Unavailable("Delete", id, err)
	}

	return nil
}

// AppendVersion stores a snapshot of a flow owned by the caller under the
// next free number. The transaction first touches the flow row so that
// writers of the same flow queue on its lock; a writer that still collides
// on (flow_id, number) retries.
func (r *FlowRepository) AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error) {
	if err := r.checkOwned(ctx, "AppendVersion", version.FlowID); err != nil {
		return false, err
	}

	data, err := json.Marshal(version.Flow)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, fmt.Errorf("failed to marshal snapshot: %w", err))
	}

	snapshot, err := r.dialect.SnapshotValue(data)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, fmt.Errorf("failed to encode snapshot: %w", err))
	}

	for range persistence.MaxVersionAttempts {
		stored, err := r.appendVersion(ctx, version, snapshot)
		if r.dialect.UniqueViolation(err) {
			r.logger.DebugContext(ctx, "Version number taken, retrying", "flow_id", version.FlowID, "number", version.Number)

			continue
		}

		if err != nil {
			return false, persistence.Unavailable("AppendVersion", version.FlowID, err)
		}

		return stored, nil
	}

	return false, persistence.NewFlowError("AppendVersion", version.FlowID, persistence.ErrVersionConflict)
}

func (r *FlowRepository) appendVersion(ctx context.Context, version *models.FlowVersion, snapshot any) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.q(`UPDATE flows SET version = version WHERE id = ?`), version.FlowID); err != nil {
		return false, err
	}

	var newest *models.FlowVersion

	latest := models.FlowVersion{}

	err = tx.QueryRowContext(ctx, r.q(`
		SELECT number, checksum FROM flow_versions
		WHERE flow_id = ? ORDER BY number DESC LIMIT 1`), version.FlowID).Scan(&latest.Number, &latest.Checksum)

	switch {
	case err == nil:
		newest = &latest
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	if !persistence.StampVersion(version, newest) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, r.q(`
		INSERT INTO flow_versions (id, flow_id, number, version, checksum, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		version.ID, version.FlowID, version.Number, version.Version, version.Checksum, snapshot,
		r.dialect.TimeValue(version.CreatedAt),
	)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// Versions lists the snapshots of a flow, newest first.
func (r *FlowRepository) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	if err := r.checkOwned(ctx, "Versions", flowID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, flow_id, number, version, checksum, document, created_at
		FROM flow_versions WHERE flow_id = ?
		ORDER BY number DESC`), flowID)
	if err != nil {
		return nil, persistence.Unavailable("Versions", flowID, err)
	}
	defer rows.Close()

	versions := make([]*models.FlowVersion, 0)

	for rows.Next() {
		var (
			version models.FlowVersion
			raw     []byte
			created timestamp
		)

		if err := rows.Scan(&version.ID, &version.FlowID, &version.Number, &version.Version, &version.Checksum, &raw, &created); err != nil {
			return nil, persistence.NewFlowError("Versions", flowID, fmt.Errorf("failed to scan version: %w", err))
		}

		data, err := r.dialect.ReadSnapshot(raw)
		if err != nil {
			return nil, persistence.NewFlowError("Versions", flowID, fmt.Errorf("failed to decode snapshot: %w", err))
		}

		if err := json.Unmarshal(data, &version.Flow); err != nil {
			return nil, persistence.NewFlowError("Versions", flowID, fmt.Errorf("failed to unmarshal snapshot: %w", err))
		}

		version.CreatedAt = created.Time
		versions = append(versions, &version)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.Unavailable("Versions", flowID, err)
	}

	return versions, nil
}

func (r *FlowRepository) checkOwned(ctx context.Context, op, flowID string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError(op, flowID, err)
	}

	var one int

	err = r.db.QueryRowContext(ctx, r.q(`SELECT 1 FROM flows WHERE id = ? AND owner = ?`), flowID, owner).Scan(&one)
	if err != nil {
		return r.readError(op, flowID, err)
	}

	return nil
}

func (r *FlowRepository) encodeFlow(flow *models.Flow) (any, error) {
	data, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow: %w", err)
	}

	return r.dialect.DocumentValue(data)
}

func (r *FlowRepository) scanFlow(row *sql.Row) (*models.Flow, error) {
	var (
		raw              []byte
		created, updated timestamp
	)

	if err := row.Scan(&raw, &created, &updated); err != nil {
		return nil, err
	}

	data, err := r.dialect.ReadDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode flow document: %w", err)
	}

	var flow models.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	flow.CreatedAt = created.Time
	flow.UpdatedAt = updated.Time

	return &flow, nil
}

func (r *FlowRepository) readError(op, flowID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewFlowError(op, flowID, persistence.ErrFlowNotFound)
	}

	var driverErr interface{ Timeout() bool }
	if errors.As(err, &driverErr) || isConnectionError(err) {
		return persistence.Unavailable(op, flowID, err)
	}

	return persistence.NewFlowError(op, flowID, err)
}

func isConnectionError(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
}
