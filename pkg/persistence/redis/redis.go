// Package redis provides a flow store on Redis. Documents are msgpack
// encoded; each owner has a sorted set of flow ids scored by creation time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultPrefix = "anyflow"

// Persistence implements persistence.Persistence on a Redis client.
type Persistence struct {
	client   redis.UniversalClient
	flowRepo *FlowRepository
}

// NewPersistence connects to the Redis server at url (redis:// or rediss://).
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("%w: failed to ping redis: %w", persistence.ErrBackendUnavailable, err)
	}

	return NewPersistenceWithClient(client, logger, defaultPrefix), nil
}

// NewPersistenceWithClient wraps an existing client. Keys are namespaced by prefix.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger, prefix string) *Persistence {
	return &Persistence{
		client:   client,
		flowRepo: &FlowRepository{client: client, logger: logger, prefix: prefix},
	}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// FlowRepository stores flows under <prefix>:flow:<id>, versions in the hash
// <prefix>:flow:<id>:versions and the owner index in <prefix>:owner:<owner>:flows.
type FlowRepository struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

func (r *FlowRepository) flowKey(id string) string {
	return r.prefix + ":flow:" + id
}

func (r *FlowRepository) versionsKey(id string) string {
	return r.prefix + ":flow:" + id + ":versions"
}

func (r *FlowRepository) ownerKey(owner string) string {
	return r.prefix + ":owner:" + owner + ":flows"
}

func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	if err := persistence.PrepareCreate(ctx, flow); err != nil {
		return persistence.NewFlowError("Create", flow.ID, err)
	}

	data, err := msgpack.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("Create", flow.ID, fmt.Errorf("failed to encode flow: %w", err))
	}

	created, err := r.client.SetNX(ctx, r.flowKey(flow.ID), data, 0).Result()
	if err != nil {
		return persistence.Unavailable("Create", flow.ID, err)
	}

	if !created {
		return persistence.NewFlowError("Create", flow.ID, persistence.ErrFlowAlreadyExists)
	}

	err = r.client.ZAdd(ctx, r.ownerKey(flow.Owner), redis.Z{
		Score:  float64(flow.CreatedAt.UnixNano()),
		Member: flow.ID,
	}).Err()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to index flow, rolling back", "flow_id", flow.ID, "error", err)
		_ = r.client.Del(ctx, r.flowKey(flow.ID)).Err()

		return persistence.Unavailable("Create", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	existing, err := r.load(ctx, flow.ID, owner)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	flow.Owner = owner
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()

	data, err := msgpack.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, fmt.Errorf("failed to encode flow: %w", err))
	}

	// XX: only overwrite a key that still exists.
	ok, err := r.client.SetXX(ctx, r.flowKey(flow.ID), data, 0).Result()
	if err != nil {
		return persistence.Unavailable("Save", flow.ID, err)
	}

	if !ok {
		return persistence.NewFlowError("Save", flow.ID, persistence.ErrFlowNotFound)
	}

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	flow, err := r.load(ctx, id, owner)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) GetByName(ctx context.Context, name string) (*models.Flow, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("GetByName", "", err)
	}

	flows, err := r.loadOwned(ctx, owner)
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

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	if err := opts.Normalize(); err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	flows, err := r.loadOwned(ctx, owner)
	if err != nil {
		return nil, persistence.NewFlowError("List", "", err)
	}

	summaries := make([]models.FlowSummary, 0, len(flows))
	for _, f := range flows {
		summaries = append(summaries, f.Summary())
	}

	return persistence.Paginate(summaries, opts), nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if _, err := r.load(ctx, id, owner); err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.flowKey(id), r.versionsKey(id))
		pipe.ZRem(ctx, r.ownerKey(owner), id)

		return nil
	})
	if err != nil {
		return persistence.Unavailable("Delete", id, err)
	}

	return nil
}

// AppendVersion claims the next number with HSETNX, so a writer that lost the
// race re-reads the newest snapshot and tries the following number.
func (r *FlowRepository) AppendVersion(ctx context.Context, version *models.FlowVersion) (bool, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	if _, err := r.load(ctx, version.FlowID, owner); err != nil {
		return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
	}

	key := r.versionsKey(version.FlowID)

	for range persistence.MaxVersionAttempts {
		newest, err := r.newestVersion(ctx, key)
		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, err)
		}

		if !persistence.StampVersion(version, newest) {
			return false, nil
		}

		data, err := msgpack.Marshal(version)
		if err != nil {
			return false, persistence.NewFlowError("AppendVersion", version.FlowID, fmt.Errorf("failed to encode version: %w", err))
		}

		claimed, err := r.client.HSetNX(ctx, key, strconv.Itoa(version.Number), data).Result()
		if err != nil {
			return false, persistence.Unavailable("AppendVersion", version.FlowID, err)
		}

		if claimed {
			return true, nil
		}
	}

	return false, persistence.NewFlowError("AppendVersion", version.FlowID, persistence.ErrVersionConflict)
}

func (r *FlowRepository) newestVersion(ctx context.Context, key string) (*models.FlowVersion, error) {
	fields, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	newest := 0

	for _, field := range fields {
		if n, err := strconv.Atoi(field); err == nil && n > newest {
			newest = n
		}
	}

	if newest == 0 {
		return nil, nil
	}

	data, err := r.client.HGet(ctx, key, strconv.Itoa(newest)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	var version models.FlowVersion
	if err := msgpack.Unmarshal(data, &version); err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}

	return &version, nil
}

func (r *FlowRepository) Versions(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	owner, err := persistence.Principal(ctx)
	if err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	if _, err := r.load(ctx, flowID, owner); err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	raw, err := r.client.HGetAll(ctx, r.versionsKey(flowID)).Result()
	if err != nil {
		return nil, persistence.Unavailable("Versions", flowID, err)
	}

	versions := make([]*models.FlowVersion, 0, len(raw))

	for _, data := range raw {
		var version models.FlowVersion
		if err := msgpack.Unmarshal([]byte(data), &version); err != nil {
			return nil, persistence.NewFlowError("Versions", flowID, fmt.Errorf("failed to decode version: %w", err))
		}

		version.CreatedAt = version.CreatedAt.UTC()
		versions = append(versions, &version)
	}

	persistence.SortVersions(versions)

	return versions, nil
}

func (r *FlowRepository) load(ctx context.Context, id, owner string) (*models.Flow, error) {
	data, err := r.client.Get(ctx, r.flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrFlowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	flow, err := decodeFlow(data)
	if err != nil {
		return nil, err
	}

	if flow.Owner != owner {
		return nil, persistence.ErrFlowNotFound
	}

	return flow, nil
}

func (r *FlowRepository) loadOwned(ctx context.Context, owner string) ([]*models.Flow, error) {
	ids, err := r.client.ZRange(ctx, r.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.flowKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrBackendUnavailable, err)
	}

	flows := make([]*models.Flow, 0, len(values))

	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			r.logger.WarnContext(ctx, "Owner index points at a missing flow", "flow_id", ids[i])

			continue
		}

		flow, err := decodeFlow([]byte(data))
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func decodeFlow(data []byte) (*models.Flow, error) {
	var flow models.Flow
	if err := msgpack.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow: %w", err)
	}

	flow.CreatedAt = flow.CreatedAt.UTC()
	flow.UpdatedAt = flow.UpdatedAt.UTC()

	return &flow, nil
}
