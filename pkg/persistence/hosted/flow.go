package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
)

const (
	flowsTable    = "flows"
	versionsTable = "flow_versions"
)

// sortColumns maps the allowlisted sort fields onto remote columns.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "flow_name",
}

type flowRow struct {
	ID        string          `json:"flow_id"`
	Owner     string          `json:"user_id"`
	Name      string          `json:"flow_name"`
	Version   string          `json:"version"`
	Document  json.RawMessage `json:"document,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type versionRow struct {
	ID        string          `json:"flow_version_id"`
	FlowID    string          `json:"flow_id"`
	Number    int             `json:"number"`
	Version   string          `json:"version"`
	Checksum  string          `json:"checksum"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r *flowRow) flow() (*models.Flow, error) {
	var flow models.Flow
	if err := json.Unmarshal(r.Document, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow document: %w", err)
	}

	flow.ID = r.ID
	flow.Owner = r.Owner
	flow.CreatedAt = r.CreatedAt.UTC()
	flow.UpdatedAt = r.UpdatedAt.UTC()

	return &flow, nil
}

func newFlowRow(flow *models.Flow) (*flowRow, error) {
	doc, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow: %w", err)
	}

	return &flowRow{
		ID:        flow.ID,
		Owner:     flow.Owner,
		Name:      flow.Name,
		Version:   flow.Version,
		Document:  doc,
		CreatedAt: flow.CreatedAt,
		UpdatedAt: flow.UpdatedAt,
	}, nil
}

// FlowRepository talks to the flows and flow_versions tables.
type FlowRepository struct {
	client *client
}

func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	if err := persistence.PrepareCreate(ctx, flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	row, err := newFlowRow(flow)
	if err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	resp, err := r.client.send(ctx, http.MethodPost, flowsTable, nil, row, http.Header{"Prefer": {"return=minimal"}})
	if err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	if !ok(resp) {
		return persistence.NewFlowError("Create", flow.ID, statusError(resp))
	}

	return nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	existing, err := r.fetch(ctx, "Save", flow.ID, owner)
	if err != nil {
		return err
	}

	flow.Owner = owner
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	row, err := newFlowRow(flow)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	patch := map[string]any{
		"flow_name":  row.Name,
		"version":    row.Version,
		"document":   row.Document,
		"updated_at": row.UpdatedAt,
	}

	query := url.Values{"flow_id": {eq(flow.ID)}, "user_id": {eq(owner)}}

	resp, err := r.client.send(ctx, http.MethodPatch, flowsTable, query, patch, http.Header{"Prefer": {"return=representation"}})
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	rows, err := decodeRows[flowRow](resp)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	if len(rows) == 0 {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrFlowNotFound)
	}

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return r.fetch(ctx, "GetByID", id, owner)
}

func (r *FlowRepository) GetByName(ctx context.Context, name string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	query := url.Values{
		"user_id":   {eq(owner)},
		"flow_name": {eq(name)},
		"order":     {"created_at.asc,flow_id.asc"},
		"limit":     {"1"},
	}

	return r.first(ctx, "GetByName", "", query)
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	if err := opts.Normalize(); err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	query := url.Values{
		"select":  {"flow_id,user_id,flow_name,version,created_at,updated_at"},
		"user_id": {eq(owner)},
		"order":   {fmt.Sprintf("%s.%s,flow_id.%s", sortColumns[opts.SortBy], opts.SortOrder, opts.SortOrder)},
		"limit":   {strconv.Itoa(opts.Limit)},
		"offset":  {strconv.Itoa(opts.Offset)},
	}

	resp, err := r.client.send(ctx, http.MethodGet, flowsTable, query, nil, http.Header{"Prefer": {"count=exact"}})
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	rows, err := decodeRows[flowRow](resp)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	summaries := make([]models.FlowSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, models.FlowSummary{
			ID:        row.ID,
			Name:      row.Name,
			Owner:     row.Owner,
			Version:   row.Version,
			CreatedAt: row.CreatedAt.UTC(),
			UpdatedAt: row.UpdatedAt.UTC(),
		})
	}

	total, found := contentRangeTotal(resp.header)
	if !found {
		total = int64(opts.Offset + len(summaries))
	}

	return &persistence.FlowListResult{
		Flows:       summaries,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(summaries)) < total,
	}, nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	query := url.Values{"flow_id": {eq(id)}, "user_id": {eq(owner)}}

	resp, err := r.client.send(ctx, http.MethodDelete, flowsTable, query, nil, http.Header{"Prefer": {"return=representation"}})
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	rows, err := decodeRows[flowRow](resp)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if len(rows) == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	resp, err = r.client.send(ctx, http.MethodDelete, versionsTable, url.Values{"flow_id": {eq(id)}}, nil, nil)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if !ok(resp) {
		return persistence.NewFlowError("Delete", id, statusError(resp))
	}

	return nil
}

// AppendVersion relies on the service's unique (flow_id, number) constraint:
// a 409 means another writer took the number, so the newest row is read again.
func (r *FlowRepository) AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	if _, err := r.fetch(ctx, "AppendVersion", version.FlowID, owner); err != nil {
		return false, err
	}

	doc, err := json.Marshal(version.Flow)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, fmt.Errorf("failed to marshal snapshot: %w", err))
	}

	for range persistence.MaxVersionAttempts {
		newest, err := r.newestVersion(ctx, version.FlowID)
		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
		}

		if !persistence.StampVersion(version, newest) {
			return false, nil
		}

		row := versionRow{
			ID:        version.ID,
			FlowID:    version.FlowID,
			Number:    version.Number,
			Version:   version.Version,
			Checksum:  version.Checksum,
			Document:  doc,
			CreatedAt: version.CreatedAt,
		}

		resp, err := r.client.send(ctx, http.MethodPost, versionsTable, nil, row, http.Header{"Prefer": {"return=minimal"}})
		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
		}

		if resp.status == http.StatusConflict {
			continue
		}

		if !ok(resp) {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, statusError(resp))
		}

		return true, nil
	}

	return false, persistence.NewFlowError("AppendVersion", version.FlowID, persistence.ErrVersionConflict)
}

func (r *FlowRepository) newestVersion(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	query := url.Values{
		"select":  {"number,checksum"},
		"flow_id": {eq(flowID)},
		"order":   {"number.desc"},
		"limit":   {"1"},
	}

	resp, err := r.client.send(ctx, http.MethodGet, versionsTable, query, nil, nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[versionRow](resp)
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	return &models.FlowVersion{Number: rows[0].Number, Checksum: rows[0].Checksum}, nil
}

func (r *FlowRepository) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	if _, err := r.fetch(ctx, "Versions", flowID, owner); err != nil {
		return nil, err
	}

	query := url.Values{"flow_id": {eq(flowID)}, "order": {"number.desc"}}

	resp, err := r.client.send(ctx, http.MethodGet, versionsTable, query, nil, nil)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	rows, err := decodeRows[versionRow](resp)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	versions := make([]*models.FlowVersion, 0, len(rows))

	for _, row := range rows {
		var snapshot models.Flow
		if err := json.Unmarshal(row.Document, &snapshot); err != nil {
			return nil, persistence.NewFlowError("Versions", flowID, fmt.Errorf("failed to decode snapshot: %w", err))
		}

		versions = append(versions, &models.FlowVersion{
			ID:        row.ID,
			FlowID:    row.FlowID,
			Number:    row.Number,
			Version:   row.Version,
			Checksum:  row.Checksum,
			Flow:      &snapshot,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}

	persistence.SortVersions(versions)

	return versions, nil
}

func (r *FlowRepository) fetch(ctx context.Context, op, id, owner string) (*models.Flow, error) {
	query := url.Values{"flow_id": {eq(id)}, "user_id": {eq(owner)}, "limit": {"1"}}

	return r.first(ctx, op, id, query)
}

func (r *FlowRepository) first(ctx context.Context, op, id string, query url.Values) (*models.Flow, error) {
	resp, err := r.client.send(ctx, http.MethodGet, flowsTable, query, nil, nil)
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	rows, err := decodeRows[flowRow](resp)
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	if len(rows) == 0 {
		return nil, persistence.NewFlowError(op, id, persistence.ErrFlowNotFound)
	}

	flow, err := rows[0].flow()
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	return flow, nil
}

func decodeRows[T any](resp *response) ([]T, error) {
	if !ok(resp) {
		return nil, statusError(resp)
	}

	var rows []T
	if len(resp.body) == 0 {
		return rows, nil
	}

	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return rows, nil
}
