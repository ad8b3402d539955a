// Package persistence defines the flow repository contract and the helpers
// shared by its backends.
package persistence

import (
	"context"

	"github.com/dukex/anyflow/pkg/models"
)

// Persistence is a storage backend.
type Persistence interface {
	FlowRepository() FlowRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// FlowRepository stores flow documents and their version history. Every
// method reads the caller's principal from the context and only sees flows
// owned by it; flows of other owners resolve to ErrFlowNotFound.
type FlowRepository interface {
	// Create stores a new flow. An empty ID is replaced with a generated one;
	// owner and timestamps are set from the session.
	Create(ctx context.Context, flow *models.Flow) error

	// Save replaces a stored flow document. The last writer wins.
	Save(ctx context.Context, flow *models.Flow) error

	GetByID(ctx context.Context, id string) (*models.Flow, error)

	// GetByName returns the oldest flow with the given name.
	GetByName(ctx context.Context, name string) (*models.Flow, error)

	List(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)

	// Delete removes a flow and its version history.
	Delete(ctx context.Context, id string) error

	// AppendVersion stores version as the newest snapshot of its flow. The
	// backend assigns Number, one above the newest stored snapshot, in the
	// same step that stores it, and fills ID and CreatedAt when empty. When
	// the newest snapshot already has version.Checksum nothing is stored and
	// false is returned.
	AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error)

	// Versions returns the snapshots of a flow, newest first.
	Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error)
}

// ListFlowsOptions pages and sorts the flow list.
type ListFlowsOptions struct {
	Limit     int    // Maximum results (default 20, max 100)
	Offset    int    // Number of results to skip
	SortBy    string // created_at, updated_at or name
	SortOrder string // asc or desc
}

// FlowListResult is one page of flow summaries.
type FlowListResult struct {
	Flows       []models.FlowSummary `json:"flows"`
	TotalCount  int64                `json:"total_count"`
	HasNextPage bool                 `json:"has_next_page"`
}
