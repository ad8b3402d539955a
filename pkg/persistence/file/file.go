// Package file provides a flow store on the local file system: one JSON
// document per flow and one per version snapshot.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
)

const (
	flowsDir    = "flows"
	versionsDir = "versions"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root     string
	flowRepo *FlowRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:     cleanRoot,
		flowRepo: NewFlowRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists or can be created.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0o750); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}

// FlowRepository returns the flow repository implementation for file persistence.
func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

// FlowRepository handles flow-related file operations.
type FlowRepository struct {
	root string
	mu   sync.RWMutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	if err := persistence.PrepareCreate(ctx, flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	if !validID(flow.ID) {
		return persistence.NewFlowError("Create", flow.ID, fmt.Errorf("invalid flow id %q", flow.ID))
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, err := os.Stat(fr.flowPath(flow.ID)); err == nil {
		return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
	}

	if err := fr.writeJSON(fr.flowPath(flow.ID), flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	return nil
}

func (fr *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	existing, err := fr.load(flow.ID, owner)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	flow.Owner = owner
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	if err := fr.writeJSON(fr.flowPath(flow.ID), flow); err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (fr *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	flow, err := fr.load(id, owner)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (fr *FlowRepository) GetByName(ctx context.Context, name string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	flows, err := fr.loadOwned(owner)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	var matches []*models.Flow

	for _, f := range flows {
		if f.Name == name {
			matches = append(matches, f)
		}
	}

	oldest := persistence.Oldest(matches)
	if oldest == nil {
		return nil, persistence.NewFlowError("GetByName", "", persistence.ErrFlowNotFound)
	}

	return oldest, nil
}

// List loads every flow of the owner and sorts and pages in memory.
func (fr *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	if err := opts.Normalize(); err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	flows, err := fr.loadOwned(owner)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	summaries := make([]models.FlowSummary, 0, len(flows))
	for _, f := range flows {
		summaries = append(summaries, f.Summary())
	}

	return persistence.Paginate(summaries, opts), nil
}

func (fr *FlowRepository) Delete(ctx context.Context, id string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, err := fr.load(id, owner); err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if err := os.Remove(fr.flowPath(id)); err != nil {
		return persistence.NewFlowError("Delete", id, fmt.Errorf("failed to delete flow file: %w", err))
	}

	if err := os.RemoveAll(filepath.Join(fr.root, versionsDir, id)); err != nil {
		return persistence.NewFlowError("Delete", id, fmt.Errorf("failed to delete versions: %w", err))
	}

	return nil
}

// AppendVersion creates versions/<id>/<n>.json exclusively. A number taken
// by another process sharing the directory is retried with the next one.
func (fr *FlowRepository) AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, err := fr.load(version.FlowID, owner); err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	for range persistence.MaxVersionAttempts {
		versions, err := fr.readVersions(version.FlowID)
		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
		}

		var newest *models.FlowVersion
		if len(versions) > 0 {
			newest = versions[0]
		}

		if !persistence.StampVersion(version, newest) {
			return false, nil
		}

		err = fr.createJSON(fr.versionPath(version.FlowID, version.Number), version)
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
		}

		return true, nil
	}

	return false, persistence.NewFlowError("AppendVersion", version.FlowID, persistence.ErrVersionConflict)
}

func (fr *FlowRepository) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	if _, err := fr.load(flowID, owner); err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	versions, err := fr.readVersions(flowID)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	return versions, nil
}

// readVersions loads every snapshot of a flow, newest first.
func (fr *FlowRepository) readVersions(flowID string) ([]*models.FlowVersion, error) {
	matches, err := doublestar.Glob(os.DirFS(fr.root), path.Join(versionsDir, flowID, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list version files: %w", err)
	}

	versions := make([]*models.FlowVersion, 0, len(matches))

	for _, match := range matches {
		var version models.FlowVersion
		if err := readJSON(filepath.Join(fr.root, filepath.FromSlash(match)), &version); err != nil {
			return nil, err
		}

		versions = append(versions, &version)
	}

	persistence.SortVersions(versions)

	return versions, nil
}

func (fr *FlowRepository) versionPath(flowID string, number int) string {
	return filepath.Join(fr.root, versionsDir, flowID, strconv.Itoa(number)+".json")
}

func (fr *FlowRepository) flowPath(id string) string {
	return filepath.Join(fr.root, flowsDir, id+".json")
}

// load reads a flow and hides it unless it belongs to owner.
func (fr *FlowRepository) load(id, owner string) (*models.Flow, error) {
	if !validID(id) {
		return nil, persistence.ErrFlowNotFound
	}

	var flow models.Flow
	if err := readJSON(fr.flowPath(id), &flow); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, err
	}

	if flow.Owner != owner {
		return nil, persistence.ErrFlowNotFound
	}

	return &flow, nil
}

func (fr *FlowRepository) loadOwned(owner string) ([]*models.Flow, error) {
	matches, err := doublestar.Glob(os.DirFS(fr.root), path.Join(flowsDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	flows := make([]*models.Flow, 0, len(matches))

	for _, match := range matches {
		id := strings.TrimSuffix(path.Base(match), ".json")

		flow, err := fr.load(id, owner)
		if errors.Is(err, persistence.ErrFlowNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load flow %s: %w", id, err)
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

// writeJSON writes through a temporary file so readers never see a partial document.
func (fr *FlowRepository) writeJSON(target string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}

// createJSON writes a new document and fails with fs.ErrExist when target is
// already there. The content goes to a temporary file first and is linked
// into place, so readers never see a partial snapshot.
func (fr *FlowRepository) createJSON(target string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".version-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}

		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}

func readJSON(name string, v any) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(name), err)
	}

	return nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
