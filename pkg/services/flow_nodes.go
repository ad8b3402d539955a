package services

import (
	"context"
	"slices"

	"github.com/dukex/anyflow/pkg/events"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// AddNode appends an action to the flow. Config and handles left empty are
// filled from the node type catalog when the type is registered.
func (s *Flow) AddNode(ctx context.Context, id string, node *models.Node) (*models.Flow, error) {
	const op = "AddNode"

	if node == nil {
		return nil, NewValidationError(op, "INVALID_REQUEST", "node cannot be nil", ErrNodeNil)
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.node.add",
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.NodeNameKey, node.Name),
		attribute.String(otelhelper.NodeTypeKey, node.Type()),
	)
	defer span.End()

	node = s.withCatalogDefaults(node)

	flow, err := s.mutate(ctx, id, events.ChangeNodeAdded, func(flow *models.Flow) error {
		return flow.AddNode(node)
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

// UpdateNode replaces the node named name. Renaming a node rewrites the
// depends_on entries and edges that refer to it.
func (s *Flow) UpdateNode(ctx context.Context, id, name string, node *models.Node) (*models.Flow, error) {
	const op = "UpdateNode"

	if node == nil {
		return nil, NewValidationError(op, "INVALID_REQUEST", "node cannot be nil", ErrNodeNil)
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.node.update",
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.NodeNameKey, name),
	)
	defer span.End()

	flow, err := s.mutate(ctx, id, events.ChangeNodeUpdated, func(flow *models.Flow) error {
		return flow.UpdateNode(name, node)
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

func (s *Flow) UpdateNodeConfig(ctx context.Context, id, name string, config models.Config) (*models.Flow, error) {
	const op = "UpdateNodeConfig"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.node.config",
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.NodeNameKey, name),
	)
	defer span.End()

	flow, err := s.mutate(ctx, id, events.ChangeNodeConfig, func(flow *models.Flow) error {
		return flow.UpdateNodeConfig(name, config)
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

// RemoveNode deletes an action and every reference to it.
func (s *Flow) RemoveNode(ctx context.Context, id, name string) (*models.Flow, error) {
	const op = "RemoveNode"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.node.remove",
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.NodeNameKey, name),
	)
	defer span.End()

	flow, err := s.mutate(ctx, id, events.ChangeNodeRemoved, func(flow *models.Flow) error {
		return flow.RemoveNode(name)
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

func (s *Flow) AddEdge(ctx context.Context, id string, edge models.Edge) (*models.Flow, error) {
	return s.changeEdge(ctx, "AddEdge", "flow.edge.add", id, edge, events.ChangeEdgeAdded, (*models.Flow).AddEdge)
}

func (s *Flow) RemoveEdge(ctx context.Context, id string, edge models.Edge) (*models.Flow, error) {
	return s.changeEdge(ctx, "RemoveEdge", "flow.edge.remove", id, edge, events.ChangeEdgeRemoved, (*models.Flow).RemoveEdge)
}

func (s *Flow) changeEdge(
	ctx context.Context,
	op, spanName, id string,
	edge models.Edge,
	change events.Change,
	apply func(*models.Flow, models.Edge) error,
) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, spanName,
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.String(otelhelper.EdgeKey, edge.String()),
	)
	defer span.End()

	if err := s.validator.Struct(edge); err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest))
	}

	flow, err := s.mutate(ctx, id, change, func(flow *models.Flow) error {
		return apply(flow, edge)
	})
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return flow, nil
}

func (s *Flow) withCatalogDefaults(node *models.Node) *models.Node {
	nodeType, ok := s.registry.Get(node.Kind, node.Type())
	if !ok {
		return node
	}

	node = node.Clone()

	if len(node.Config) == 0 {
		node.Config = slices.Clone(nodeType.DefaultConfig)
	}

	if len(node.Handles) == 0 {
		node.Handles = slices.Clone(nodeType.Handles)
	}

	if node.Icon == "" {
		node.Icon = nodeType.Icon
	}

	return node
}
