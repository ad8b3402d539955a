package persistence

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/session"
	"github.com/google/uuid"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var allowedSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// Principal returns the owner id of the caller, or ErrUnauthorized.
func Principal(ctx context.Context) (string, error) {
	s, err := session.Require(ctx)
	if err != nil {
		return "", err
	}

	return s.Principal, nil
}

// PrepareCreate stamps a new flow with an id, its owner and timestamps.
func PrepareCreate(ctx context.Context, flow *models.Flow) error {
	s, err := session.Require(ctx)
	if err != nil {
		return err
	}

	if flow.ID == "" {
		flow.ID = NewID()
	}

	now := time.Now().UTC()
	flow.Owner = s.Principal
	flow.Username = cmp.Or(flow.Username, s.Username)
	flow.CreatedAt = now
	flow.UpdatedAt = now

	return nil
}

// NewID returns a time-ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Normalize applies defaults and checks the sort parameters against the allowlist.
func (o *ListFlowsOptions) Normalize() error {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !allowedSorts[o.SortBy] {
		return ErrInvalidSortField
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return ErrInvalidSortOrder
	}

	return nil
}

// SortSummaries sorts in place. Ties are broken by id so pages are stable.
func SortSummaries(summaries []models.FlowSummary, sortBy, sortOrder string) {
	slices.SortStableFunc(summaries, func(a, b models.FlowSummary) int {
		var c int

		switch sortBy {
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case "name":
			c = strings.Compare(a.Name, b.Name)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}

		if sortOrder == "desc" {
			return -c
		}

		return c
	})
}

// Paginate sorts the summaries and cuts the requested page. opts must be normalized.
func Paginate(summaries []models.FlowSummary, opts ListFlowsOptions) *FlowListResult {
	SortSummaries(summaries, opts.SortBy, opts.SortOrder)

	total := len(summaries)
	if opts.Offset >= total {
		return &FlowListResult{Flows: []models.FlowSummary{}, TotalCount: int64(total)}
	}

	end := min(opts.Offset+opts.Limit, total)

	return &FlowListResult{
		Flows:       summaries[opts.Offset:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}
}

// MaxVersionAttempts bounds how often a backend retries a version number
// that another writer stored first.
const MaxVersionAttempts = 8

// StampVersion prepares version to follow newest, which is nil for a flow
// without snapshots. It returns false when newest holds the same content.
func StampVersion(version, newest *models.FlowVersion) bool {
	if newest != nil && version.Checksum != "" && newest.Checksum == version.Checksum {
		return false
	}

	version.Number = 1
	if newest != nil {
		version.Number = newest.Number + 1
	}

	if version.ID == "" {
		version.ID = NewID()
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	return true
}

// SortVersions orders snapshots newest first.
func SortVersions(versions []*models.FlowVersion) {
	slices.SortFunc(versions, func(a, b *models.FlowVersion) int {
		return cmp.Compare(b.Number, a.Number)
	})
}

// Oldest returns the flow created first, or nil.
func Oldest(flows []*models.Flow) *models.Flow {
	if len(flows) == 0 {
		return nil
	}

	return slices.MinFunc(flows, func(a, b *models.Flow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
