// Package memory provides an in-process flow store, used for tests and for
// running the API without any external backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
)

// Persistence implements persistence.Persistence in memory. Stored documents
// are copies; callers never share state with the store.
type Persistence struct {
	repo *FlowRepository
}

func NewPersistence() *Persistence {
	return &Persistence{repo: NewFlowRepository()}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.repo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// FlowRepository keeps flows and versions in maps guarded by a RWMutex.
type FlowRepository struct {
	mu       sync.RWMutex
	flows    map[string]*models.Flow
	versions map[string][]*models.FlowVersion
}

func NewFlowRepository() *FlowRepository {
	return &FlowRepository{
		flows:    make(map[string]*models.Flow),
		versions: make(map[string][]*models.FlowVersion),
	}
}

func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	if err := persistence.PrepareCreate(ctx, flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[flow.ID]; exists {
		return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
	}

	r.flows[flow.ID] = flow.Clone()

	return nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.flows[flow.ID]
	if !ok || stored.Owner != owner {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrFlowNotFound)
	}

	flow.Owner = stored.Owner
	flow.CreatedAt = stored.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	r.flows[flow.ID] = flow.Clone()

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.flows[id]
	if !ok || stored.Owner != owner {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	return stored.Clone(), nil
}

func (r *FlowRepository) GetByName(ctx context.Context, name string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*models.Flow

	for _, stored := range r.flows {
		if stored.Owner == owner && stored.Name == name {
			matches = append(matches, stored)
		}
	}

	found := persistence.Oldest(matches)
	if found == nil {
		return nil, persistence.NewFlowError("GetByName", "", persistence.ErrFlowNotFound)
	}

	return found.Clone(), nil
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	if err := opts.Normalize(); err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.FlowSummary, 0, len(r.flows))

	for _, stored := range r.flows {
		if stored.Owner == owner {
			summaries = append(summaries, stored.Summary())
		}
	}

	return persistence.Paginate(summaries, opts), nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.flows[id]
	if !ok || stored.Owner != owner {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	delete(r.flows, id)
	delete(r.versions, id)

	return nil
}

func (r *FlowRepository) AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.flows[version.FlowID]
	if !ok || stored.Owner != owner {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, persistence.ErrFlowNotFound)
	}

	history := r.versions[version.FlowID]

	var newest *models.FlowVersion
	if len(history) > 0 {
		newest = history[len(history)-1]
	}

	if !persistence.StampVersion(version, newest) {
		return false, nil
	}

	snapshot := *version
	snapshot.Flow = version.Flow.Clone()

	r.versions[version.FlowID] = append(history, &snapshot)

	return true, nil
}

func (r *FlowRepository) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.flows[flowID]
	if !ok || stored.Owner != owner {
		return nil, persistence.NewFlowError("Versions", flowID, persistence.ErrFlowNotFound)
	}

	out := make([]*models.FlowVersion, 0, len(r.versions[flowID]))

	for _, v := range r.versions[flowID] {
		snapshot := *v
		snapshot.Flow = v.Flow.Clone()
		out = append(out, &snapshot)
	}

	persistence.SortVersions(out)

	return out, nil
}
