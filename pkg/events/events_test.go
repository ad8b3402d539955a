package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowEvents_JSONSerialization(t *testing.T) {
	tests := []struct {
		name     string
		event    interface{ GetType() EventType }
		wantType EventType
		contains []string
	}{
		{
			name:     "created",
			event:    NewFlowCreated("flow-1", "user-1", "Daily report", "0.1"),
			wantType: FlowCreatedEvent,
			contains: []string{`"flow_name":"Daily report"`, `"type":"flow.created"`},
		},
		{
			name:     "renamed",
			event:    NewFlowRenamed("flow-1", "user-1", "old", "new"),
			wantType: FlowRenamedEvent,
			contains: []string{`"old_name":"old"`, `"new_name":"new"`},
		},
		{
			name:     "updated",
			event:    NewFlowUpdated("flow-1", "user-1", ChangeNodeAdded, "abc", 3),
			wantType: FlowUpdatedEvent,
			contains: []string{`"change":"node.added"`, `"version_number":3`},
		},
		{
			name:     "deleted",
			event:    NewFlowDeleted("flow-1", "user-1"),
			wantType: FlowDeletedEvent,
			contains: []string{`"flow_id":"flow-1"`, `"owner":"user-1"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.event.GetType())

			data, err := json.Marshal(tt.event)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, string(data), want)
			}

			decoded := NewEvent(tt.wantType)
			require.NotNil(t, decoded)
			require.NoError(t, json.Unmarshal(data, decoded))
			assert.Equal(t, tt.wantType, decoded.(interface{ GetType() EventType }).GetType())
		})
	}
}

func TestFlowUpdated_OmitsZeroVersion(t *testing.T) {
	data, err := json.Marshal(NewFlowUpdated("flow-1", "user-1", ChangeDocument, "abc", 0))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "version_number")
}

func TestNewEvent_Unknown(t *testing.T) {
	assert.Nil(t, NewEvent("workflow.triggered"))
}

func TestBaseEvent_Validate(t *testing.T) {
	tests := []struct {
		name        string
		event       BaseEvent
		expectedErr string
	}{
		{name: "valid_event", event: NewBaseEvent(FlowDeletedEvent, "flow-1", "user-1")},
		{name: "missing_flow_id", event: NewBaseEvent(FlowDeletedEvent, "", "user-1"), expectedErr: "flow_id is required"},
		{name: "missing_owner", event: NewBaseEvent(FlowDeletedEvent, "flow-1", ""), expectedErr: "owner is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.expectedErr != "" {
				assert.ErrorContains(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewBaseEvent(t *testing.T) {
	a := NewBaseEvent(FlowCreatedEvent, "flow-1", "user-1")
	b := NewBaseEvent(FlowCreatedEvent, "flow-1", "user-1")

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, FlowCreatedEvent, a.Type)
}
