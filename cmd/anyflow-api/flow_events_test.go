package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/anyflow/pkg/channels/gochannel"
	"github.com/dukex/anyflow/pkg/eventbus"
	"github.com/dukex/anyflow/pkg/events"
	"github.com/dukex/anyflow/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestFlowEventLog_LogsPublishedEvents(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(slog.Default(), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	require.NoError(t, NewFlowEventLog(bus, log.New(out, "info", "json")).Start(ctx))

	require.NoError(t, bus.Publish(ctx, "f1", events.NewFlowCreated("f1", "alice", "orders", "0.1")))
	require.NoError(t, bus.Publish(ctx, "f1", events.NewFlowRenamed("f1", "alice", "orders", "invoices")))
	require.NoError(t, bus.Publish(ctx, "f1", events.NewFlowUpdated("f1", "alice", events.ChangeNodeAdded, "abc", 2)))
	require.NoError(t, bus.Publish(ctx, "f2", events.NewFlowDeleted("f2", "")))

	assert.Eventually(t, func() bool {
		logged := out.String()

		return strings.Contains(logged, `"msg":"Flow created"`) &&
			strings.Contains(logged, `"new_name":"invoices"`) &&
			strings.Contains(logged, `"version_number":2`) &&
			strings.Contains(logged, `"msg":"Dropping malformed flow event"`)
	}, 2*time.Second, 10*time.Millisecond, out.String())

	assert.NotContains(t, out.String(), `"msg":"Flow deleted"`)
}
