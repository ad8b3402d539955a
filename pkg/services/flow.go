package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/anyflow/pkg/codec"
	"github.com/dukex/anyflow/pkg/eventbus"
	"github.com/dukex/anyflow/pkg/events"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/otelhelper"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/registry"
	"github.com/dukex/anyflow/pkg/session"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Flow runs flow operations on behalf of the session found in the context.
// Every document change is validated, saved, snapshotted when its content
// changed and announced on the event publisher.
type Flow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	validator   *validator.Validate
	logger      *slog.Logger
}

type Option func(*Flow)

// WithPublisher announces committed changes on publisher.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Flow) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Flow) {
		s.tracer = tracer
	}
}

// NewFlow creates a new flow service.
func NewFlow(persistence persistence.Persistence, registry *registry.Registry, logger *slog.Logger, opts ...Option) *Flow {
	s := &Flow{
		persistence: persistence,
		registry:    registry,
		tracer:      otelhelper.NoopTracer(),
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "flow_service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HealthCheck checks the health of the persistence layer.
func (s *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateFlowRequest names a new flow.
type CreateFlowRequest struct {
	Name string `json:"flowName" validate:"required,max=255"`
}

// ListFlowsRequest contains options for listing flows.
type ListFlowsRequest struct {
	// Pagination
	Limit  int `validate:"min=0,max=100"`
	Offset int `validate:"min=0"`

	// Sorting
	SortBy    string `validate:"omitempty,oneof=created_at updated_at name"`
	SortOrder string `validate:"omitempty,oneof=asc desc"`
}

type RenameFlowRequest struct {
	Name string `json:"flowName" validate:"required,max=255"`
}

// CreateFlow stores the minimal valid flow named name: a manual trigger and
// no actions.
func (s *Flow) CreateFlow(ctx context.Context, name string) (*models.Flow, error) {
	const op = "CreateFlow"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.create", attribute.String(otelhelper.FlowNameKey, name))
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return nil, s.fail(span, op, err)
	}

	if err := s.validator.Struct(CreateFlowRequest{Name: name}); err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest))
	}

	flow := models.NewFlow(name)

	if err := s.persistence.FlowRepository().Create(ctx, flow); err != nil {
		return nil, s.fail(span, op, err)
	}

	span.SetAttributes(attribute.String(otelhelper.FlowIDKey, flow.ID))

	if _, _, err := s.recordVersion(ctx, flow); err != nil {
		if delErr := s.persistence.FlowRepository().Delete(ctx, flow.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "Failed to remove flow without first version", "flow_id", flow.ID, "error", delErr)
		}

		return nil, s.fail(span, op, err)
	}

	s.publish(ctx, flow.ID, events.NewFlowCreated(flow.ID, flow.Owner, flow.Name, flow.Version))

	return flow, nil
}

// GetFlows lists the caller's flows.
func (s *Flow) GetFlows(ctx context.Context, req ListFlowsRequest) (*persistence.FlowListResult, error) {
	const op = "GetFlows"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.list")
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return nil, s.fail(span, op, err)
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest))
	}

	result, err := s.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return result, nil
}

func (s *Flow) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	const op = "GetFlow"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.get", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

// GetFlowByName returns the oldest of the caller's flows named name.
func (s *Flow) GetFlowByName(ctx context.Context, name string) (*models.Flow, error) {
	const op = "GetFlowByName"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.get_by_name", attribute.String(otelhelper.FlowNameKey, name))
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return nil, s.fail(span, op, err)
	}

	if err := s.validator.Var(name, "required"); err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_REQUEST", "flow name is required", ErrInvalidRequest))
	}

	flow, err := s.persistence.FlowRepository().GetByName(ctx, name)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

func (s *Flow) RenameFlow(ctx context.Context, id string, req RenameFlowRequest) (*models.Flow, error) {
	const op = "RenameFlow"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.rename", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return nil, s.fail(span, op, err)
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest))
	}

	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	oldName := flow.Name
	if oldName == req.Name {
		return flow, nil
	}

	if err := flow.Rename(req.Name); err != nil {
		return nil, s.fail(span, op, err)
	}

	if err := s.commit(ctx, flow, events.ChangeDocument); err != nil {
		return nil, s.fail(span, op, err)
	}

	s.publish(ctx, flow.ID, events.NewFlowRenamed(flow.ID, flow.Owner, oldName, flow.Name))

	return flow, nil
}

// UpdateFlow replaces the stored document with flow. Identity, owner and
// creation time are kept from the stored flow.
func (s *Flow) UpdateFlow(ctx context.Context, id string, flow *models.Flow) (*models.Flow, error) {
	const op = "UpdateFlow"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.update", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	updated, err := s.replace(ctx, op, id, flow, events.ChangeDocument)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return updated, nil
}

// DeleteFlow removes the flow and its version history.
func (s *Flow) DeleteFlow(ctx context.Context, id string) error {
	const op = "DeleteFlow"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.delete", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	sess, err := session.Require(ctx)
	if err != nil {
		return s.fail(span, op, err)
	}

	if err := s.persistence.FlowRepository().Delete(ctx, id); err != nil {
		return s.fail(span, op, err)
	}

	s.publish(ctx, id, events.NewFlowDeleted(id, sess.Principal))

	return nil
}

// GetFlowVersions returns the snapshots of a flow, newest first.
func (s *Flow) GetFlowVersions(ctx context.Context, id string) ([]*models.FlowVersion, error) {
	const op = "GetFlowVersions"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.versions", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return nil, s.fail(span, op, err)
	}

	versions, err := s.persistence.FlowRepository().Versions(ctx, id)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return versions, nil
}

// ValidateFlow checks a document without storing it and reports every
// violation found, including node config errors.
func (s *Flow) ValidateFlow(ctx context.Context, flow *models.Flow) error {
	const op = "ValidateFlow"

	_, span := otelhelper.StartSpan(ctx, s.tracer, "flow.validate")
	defer span.End()

	if _, err := session.Require(ctx); err != nil {
		return s.fail(span, op, err)
	}

	if flow == nil {
		return s.fail(span, op, ErrFlowNil)
	}

	err := errors.Join(flow.ValidateAll(), s.registry.ValidateFlow(flow))
	if err != nil {
		return s.fail(span, op, err)
	}

	return nil
}

// load fetches the caller's flow after checking the session.
func (s *Flow) load(ctx context.Context, id string) (*models.Flow, error) {
	if _, err := session.Require(ctx); err != nil {
		return nil, err
	}

	return s.persistence.FlowRepository().GetByID(ctx, id)
}

// mutate loads the flow, applies change and commits the result. The stored
// document is untouched when change or validation fails.
func (s *Flow) mutate(ctx context.Context, id string, change events.Change, apply func(*models.Flow) error) (*models.Flow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := apply(flow); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, flow, change); err != nil {
		return nil, err
	}

	return flow, nil
}

func (s *Flow) replace(ctx context.Context, op, id string, flow *models.Flow, change events.Change) (*models.Flow, error) {
	if flow == nil {
		return nil, NewValidationError(op, "INVALID_REQUEST", "flow cannot be nil", ErrFlowNil)
	}

	stored, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := flow.Clone()
	next.ID = stored.ID
	next.Owner = stored.Owner
	next.CreatedAt = stored.CreatedAt

	if next.Username == "" {
		next.Username = stored.Username
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, next, change); err != nil {
		return nil, err
	}

	return next, nil
}

// commit checks node configs, saves the flow and snapshots it. A flow.updated
// event is published only when a new snapshot was stored.
func (s *Flow) commit(ctx context.Context, flow *models.Flow, change events.Change) error {
	if err := s.registry.ValidateFlow(flow); err != nil {
		return err
	}

	if err := s.persistence.FlowRepository().Save(ctx, flow); err != nil {
		return err
	}

	number, checksum, err := s.recordVersion(ctx, flow)
	if err != nil {
		return err
	}

	if number == 0 {
		return nil
	}

	s.publish(ctx, flow.ID, events.NewFlowUpdated(flow.ID, flow.Owner, change, checksum, number))

	return nil
}

// recordVersion stores a snapshot when the flow content differs from the
// newest one. It returns the number the backend assigned, or zero when
// nothing was stored.
func (s *Flow) recordVersion(ctx context.Context, flow *models.Flow) (int, string, error) {
	checksum, err := codec.Checksum(flow)
	if err != nil {
		return 0, "", err
	}

	version := &models.FlowVersion{
		FlowID:   flow.ID,
		Version:  flow.Version,
		Checksum: checksum,
		Flow:     flow.Clone(),
	}

	stored, err := s.persistence.FlowRepository().AppendVersion(ctx, version)
	if err != nil {
		return 0, "", fmt.Errorf("failed to record version of flow %s: %w", flow.ID, err)
	}

	if !stored {
		return 0, checksum, nil
	}

	return version.Number, checksum, nil
}

func (s *Flow) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "error", err, "event_type", event.GetType(), "flow_id", key)
	}
}

func (s *Flow) fail(span trace.Span, op string, err error) error {
	otelhelper.SetError(span, err, attribute.String("operation", op))

	if IsUnavailable(err) {
		s.logger.Error("Backend unavailable", "operation", op, "error", err)
	}

	return err
}
