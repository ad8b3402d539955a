package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/anyflow/pkg/channels/gochannel"
	"github.com/dukex/anyflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.Default(), pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 2)
	handler := func(_ context.Context, event any) error {
		received <- event

		return nil
	}

	require.NoError(t, bus.Handle(events.FlowCreatedEvent, handler))
	require.NoError(t, bus.Handle(events.FlowUpdatedEvent, handler))
	require.NoError(t, bus.Subscribe(ctx))

	created := events.NewFlowCreated("f1", "alice", "orders", "0.1")
	require.NoError(t, bus.Publish(ctx, "f1", created))

	updated := events.NewFlowUpdated("f1", "alice", events.ChangeNodeAdded, "abc", 2)
	require.NoError(t, bus.Publish(ctx, "f1", updated))

	byType := map[events.EventType]any{}
	for range 2 {
		got := waitEvent(t, received)
		typed, ok := got.(Event)
		require.True(t, ok, "unexpected %T", got)
		byType[typed.GetType()] = got
	}

	createdEvent, ok := byType[events.FlowCreatedEvent].(*events.FlowCreated)
	require.True(t, ok)
	assert.Equal(t, created.ID, createdEvent.ID)
	assert.Equal(t, "orders", createdEvent.FlowName)

	updatedEvent, ok := byType[events.FlowUpdatedEvent].(*events.FlowUpdated)
	require.True(t, ok)
	assert.Equal(t, events.ChangeNodeAdded, updatedEvent.Change)
	assert.Equal(t, 2, updatedEvent.VersionNumber)
}

func TestWatermillEventBus_SetsMetadata(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.Default(), pub, sub)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := sub.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "f9", events.NewFlowDeleted("f9", "bob")))

	select {
	case msg := <-messages:
		assert.Equal(t, "f9", msg.Metadata.Get(events.EventMetadataKey))
		assert.Equal(t, string(events.FlowDeletedEvent), msg.Metadata.Get(events.EventTypeMetadataKey))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWatermillEventBus_Dispatch(t *testing.T) {
	failing := errors.New("handler failed")

	tests := []struct {
		name      string
		eventType events.EventType
		payload   string
		handler   EventHandler
		wantAck   bool
	}{
		{
			name:      "no handler acks",
			eventType: events.FlowRenamedEvent,
			payload:   `{}`,
			wantAck:   true,
		},
		{
			name:      "bad payload nacks",
			eventType: events.FlowCreatedEvent,
			payload:   `not json`,
			handler:   func(context.Context, any) error { return nil },
		},
		{
			name:      "handler error nacks",
			eventType: events.FlowCreatedEvent,
			payload:   `{"flow_id":"f1"}`,
			handler:   func(context.Context, any) error { return failing },
		},
		{
			name:      "unknown type with handler nacks",
			eventType: "flow.unknown",
			payload:   `{}`,
			handler:   func(context.Context, any) error { return nil },
		},
		{
			name:      "handled acks",
			eventType: events.FlowCreatedEvent,
			payload:   `{"flow_id":"f1"}`,
			handler:   func(context.Context, any) error { return nil },
			wantAck:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus(t)
			if tt.handler != nil {
				require.NoError(t, bus.Handle(tt.eventType, tt.handler))
			}

			msg := message.NewMessage("m", []byte(tt.payload))
			msg.Metadata.Set(events.EventTypeMetadataKey, string(tt.eventType))

			bus.dispatch(context.Background(), msg)

			if tt.wantAck {
				assertClosed(t, msg.Acked())
			} else {
				assertClosed(t, msg.Nacked())
			}
		})
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEmpty(t, bus.GenerateID())
	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

func waitEvent(t *testing.T, ch <-chan any) any {
	t.Helper()

	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")

		return nil
	}
}

func assertClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
