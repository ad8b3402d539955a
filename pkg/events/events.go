// Package events defines the flow lifecycle notifications published after a
// committed change.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every flow lifecycle event.
const Topic = "anyflow.flow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	FlowCreatedEvent EventType = "flow.created"
	FlowRenamedEvent EventType = "flow.renamed"
	FlowUpdatedEvent EventType = "flow.updated"
	FlowDeletedEvent EventType = "flow.deleted"
)

// Change names the mutation behind a flow.updated event.
type Change string

const (
	ChangeDocument     Change = "document"
	ChangeNodeAdded    Change = "node.added"
	ChangeNodeUpdated  Change = "node.updated"
	ChangeNodeConfig   Change = "node.config"
	ChangeNodeRemoved  Change = "node.removed"
	ChangeEdgeAdded    Change = "edge.added"
	ChangeEdgeRemoved  Change = "edge.removed"
	ChangeTomlImported Change = "toml.imported"
)

var (
	errFlowIDRequired = errors.New("flow_id is required")
	errOwnerRequired  = errors.New("owner is required")
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FlowID    string    `json:"flow_id"`
	Owner     string    `json:"owner"`
}

// Validate checks the fields every event needs.
func (b BaseEvent) Validate() error {
	if b.FlowID == "" {
		return errFlowIDRequired
	}

	if b.Owner == "" {
		return errOwnerRequired
	}

	return nil
}

func NewBaseEvent(eventType EventType, flowID, owner string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Owner:     owner,
	}
}

type FlowCreated struct {
	BaseEvent

	FlowName string `json:"flow_name"`
	Version  string `json:"version"`
}

func (e FlowCreated) GetType() EventType {
	return FlowCreatedEvent
}

func NewFlowCreated(flowID, owner, name, version string) FlowCreated {
	return FlowCreated{
		BaseEvent: NewBaseEvent(FlowCreatedEvent, flowID, owner),
		FlowName:  name,
		Version:   version,
	}
}

type FlowRenamed struct {
	BaseEvent

	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (e FlowRenamed) GetType() EventType {
	return FlowRenamedEvent
}

func NewFlowRenamed(flowID, owner, oldName, newName string) FlowRenamed {
	return FlowRenamed{
		BaseEvent: NewBaseEvent(FlowRenamedEvent, flowID, owner),
		OldName:   oldName,
		NewName:   newName,
	}
}

// FlowUpdated reports a committed document change and the number of the
// snapshot it produced.
type FlowUpdated struct {
	BaseEvent

	Change        Change `json:"change"`
	Checksum      string `json:"checksum"`
	VersionNumber int    `json:"version_number,omitempty"`
}

func (e FlowUpdated) GetType() EventType {
	return FlowUpdatedEvent
}

func NewFlowUpdated(flowID, owner string, change Change, checksum string, versionNumber int) FlowUpdated {
	return FlowUpdated{
		BaseEvent:     NewBaseEvent(FlowUpdatedEvent, flowID, owner),
		Change:        change,
		Checksum:      checksum,
		VersionNumber: versionNumber,
	}
}

type FlowDeleted struct {
	BaseEvent
}

func (e FlowDeleted) GetType() EventType {
	return FlowDeletedEvent
}

func NewFlowDeleted(flowID, owner string) FlowDeleted {
	return FlowDeleted{BaseEvent: NewBaseEvent(FlowDeletedEvent, flowID, owner)}
}

// NewEvent returns an empty event value for eventType, ready to be decoded
// into, or nil for an unknown type.
func NewEvent(eventType EventType) any {
	switch eventType {
	case FlowCreatedEvent:
		return &FlowCreated{}
	case FlowRenamedEvent:
		return &FlowRenamed{}
	case FlowUpdatedEvent:
		return &FlowUpdated{}
	case FlowDeletedEvent:
		return &FlowDeleted{}
	default:
		return nil
	}
}
