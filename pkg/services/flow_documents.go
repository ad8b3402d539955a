package services

import (
	"context"

	"github.com/dukex/anyflow/pkg/codec"
	"github.com/dukex/anyflow/pkg/events"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// ReadToml returns the flow as a TOML document.
func (s *Flow) ReadToml(ctx context.Context, id string) ([]byte, error) {
	const op = "ReadToml"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.toml.read", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	data, err := codec.MarshalTOML(flow)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return data, nil
}

// WriteToml replaces the flow with the given TOML document.
func (s *Flow) WriteToml(ctx context.Context, id string, data []byte) (*models.Flow, error) {
	const op = "WriteToml"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.toml.write", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	flow, err := codec.UnmarshalTOML(data)
	if err != nil {
		return nil, s.fail(span, op, NewValidationError(op, "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument))
	}

	updated, err := s.replace(ctx, op, id, flow, events.ChangeTomlImported)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return updated, nil
}

// Plan returns the dependency respecting visiting order of the flow.
func (s *Flow) Plan(ctx context.Context, id string) (*models.Plan, error) {
	const op = "Plan"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "flow.plan", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	plan, err := flow.Plan()
	if err != nil {
		return nil, s.fail(span, op, err)
	}

	return plan, nil
}
