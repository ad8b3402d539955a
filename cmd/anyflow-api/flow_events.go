package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/anyflow/pkg/eventbus"
	"github.com/dukex/anyflow/pkg/events"
)

// FlowEventLog writes every flow lifecycle event seen on the bus to the log.
type FlowEventLog struct {
	logger     *slog.Logger
	subscriber eventbus.EventSubscriber
}

func NewFlowEventLog(subscriber eventbus.EventSubscriber, logger *slog.Logger) *FlowEventLog {
	return &FlowEventLog{
		logger:     logger.With("module", "flow_events"),
		subscriber: subscriber,
	}
}

// Start registers the handlers and begins consuming until ctx is done.
func (l *FlowEventLog) Start(ctx context.Context) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.FlowCreatedEvent: l.handleFlowCreated,
		events.FlowRenamedEvent: l.handleFlowRenamed,
		events.FlowUpdatedEvent: l.handleFlowUpdated,
		events.FlowDeletedEvent: l.handleFlowDeleted,
	}

	for eventType, handler := range handlers {
		if err := l.subscriber.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s events: %w", eventType, err)
		}
	}

	if err := l.subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	l.logger.InfoContext(ctx, "Flow event log started")

	return nil
}

func (l *FlowEventLog) handleFlowCreated(ctx context.Context, event any) error {
	created, ok := event.(*events.FlowCreated)
	if !ok {
		return fmt.Errorf("invalid event type for flow.created: %T", event)
	}

	if !l.valid(ctx, created.BaseEvent) {
		return nil
	}

	l.logger.InfoContext(ctx, "Flow created",
		"flow_id", created.FlowID,
		"owner", created.Owner,
		"flow_name", created.FlowName,
		"version", created.Version)

	return nil
}

func (l *FlowEventLog) handleFlowRenamed(ctx context.Context, event any) error {
	renamed, ok := event.(*events.FlowRenamed)
	if !ok {
		return fmt.Errorf("invalid event type for flow.renamed: %T", event)
	}

	if !l.valid(ctx, renamed.BaseEvent) {
		return nil
	}

	l.logger.InfoContext(ctx, "Flow renamed",
		"flow_id", renamed.FlowID,
		"owner", renamed.Owner,
		"old_name", renamed.OldName,
		"new_name", renamed.NewName)

	return nil
}

func (l *FlowEventLog) handleFlowUpdated(ctx context.Context, event any) error {
	updated, ok := event.(*events.FlowUpdated)
	if !ok {
		return fmt.Errorf("invalid event type for flow.updated: %T", event)
	}

	if !l.valid(ctx, updated.BaseEvent) {
		return nil
	}

	l.logger.InfoContext(ctx, "Flow updated",
		"flow_id", updated.FlowID,
		"owner", updated.Owner,
		"change", updated.Change,
		"version_number", updated.VersionNumber)

	return nil
}

func (l *FlowEventLog) handleFlowDeleted(ctx context.Context, event any) error {
	deleted, ok := event.(*events.FlowDeleted)
	if !ok {
		return fmt.Errorf("invalid event type for flow.deleted: %T", event)
	}

	if !l.valid(ctx, deleted.BaseEvent) {
		return nil
	}

	l.logger.InfoContext(ctx, "Flow deleted", "flow_id", deleted.FlowID, "owner", deleted.Owner)

	return nil
}

// valid reports whether base carries the fields every event needs. Malformed
// events are logged and acknowledged.
func (l *FlowEventLog) valid(ctx context.Context, base events.BaseEvent) bool {
	if err := base.Validate(); err != nil {
		l.logger.WarnContext(ctx, "Dropping malformed flow event", "event_id", base.ID, "type", base.Type, "error", err)

		return false
	}

	return true
}
