package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dukex/anyflow/pkg/events"
	"github.com/dukex/anyflow/pkg/mocks"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/persistence/file"
	"github.com/dukex/anyflow/pkg/persistence/memory"
	"github.com/dukex/anyflow/pkg/persistence/persistencetest"
	"github.com/dukex/anyflow/pkg/persistence/sqlite"
	"github.com/dukex/anyflow/pkg/registry"
	"github.com/dukex/anyflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	require.NoError(t, reg.RegisterDefaultNodes())

	return reg
}

func newTestService(t *testing.T) (*Flow, *mocks.MockEventBus) {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	service := NewFlow(memory.NewPersistence(), newTestRegistry(t), slog.Default(), WithPublisher(bus))

	return service, bus
}

// publishedEvents returns the events handed to the bus, in call order.
func publishedEvents(bus *mocks.MockEventBus) []any {
	var out []any

	for _, call := range bus.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(2))
		}
	}

	return out
}

func TestNewFlow(t *testing.T) {
	persistence := memory.NewPersistence()
	service := NewFlow(persistence, newTestRegistry(t), slog.Default())

	assert.NotNil(t, service)
	assert.Equal(t, persistence, service.persistence)
	assert.Nil(t, service.publisher)
	assert.NotNil(t, service.tracer)
}

func TestFlow_HealthCheck(t *testing.T) {
	service, _ := newTestService(t)

	message, healthy := service.HealthCheck(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, "Persistence layer is healthy", message)

	failing := &mocks.MockPersistence{}
	failing.On("HealthCheck", mock.Anything).Return(persistence.ErrBackendUnavailable)

	message, healthy = NewFlow(failing, newTestRegistry(t), slog.Default()).HealthCheck(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, message, "unhealthy")
}

func TestFlow_RejectsBeforeBackendCall(t *testing.T) {
	backend := &mocks.MockPersistence{}
	service := NewFlow(backend, newTestRegistry(t), slog.Default())
	alice := persistencetest.Context("alice")

	tests := []struct {
		name    string
		call    func() error
		checkFn func(error) bool
	}{
		{
			name:    "create without session",
			call:    func() error { _, err := service.CreateFlow(context.Background(), "x"); return err },
			checkFn: IsUnauthorized,
		},
		{
			name:    "create with empty name",
			call:    func() error { _, err := service.CreateFlow(alice, ""); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "get by empty name",
			call:    func() error { _, err := service.GetFlowByName(alice, ""); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "rename to empty name",
			call:    func() error { _, err := service.RenameFlow(alice, "id", RenameFlowRequest{}); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "list with oversized limit",
			call:    func() error { _, err := service.GetFlows(alice, ListFlowsRequest{Limit: 101}); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "list sorted by unknown field",
			call:    func() error { _, err := service.GetFlows(alice, ListFlowsRequest{SortBy: "owner"}); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "get without session",
			call:    func() error { _, err := service.GetFlow(context.Background(), "id"); return err },
			checkFn: IsUnauthorized,
		},
		{
			name:    "delete without session",
			call:    func() error { return service.DeleteFlow(context.Background(), "id") },
			checkFn: IsUnauthorized,
		},
		{
			name:    "edge without target",
			call:    func() error { _, err := service.AddEdge(alice, "id", models.Edge{Source: "a"}); return err },
			checkFn: IsValidationError,
		},
		{
			name:    "nil node",
			call:    func() error { _, err := service.AddNode(alice, "id", nil); return err },
			checkFn: IsValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
		})
	}

	backend.AssertNotCalled(t, "FlowRepository")
}

func TestFlow_CreateFlow(t *testing.T) {
	service, bus := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "orders")
	require.NoError(t, err)

	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, "orders", flow.Name)
	assert.Equal(t, "alice", flow.Owner)
	assert.Equal(t, models.DefaultTriggerName, flow.Trigger.Name)
	assert.Empty(t, flow.Actions)

	stored, err := service.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Name, stored.Name)

	versions, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Number)
	assert.NotEmpty(t, versions[0].Checksum)

	published := publishedEvents(bus)
	require.Len(t, published, 1)

	created, ok := published[0].(events.FlowCreated)
	require.True(t, ok)
	assert.Equal(t, flow.ID, created.FlowID)
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, "orders", created.FlowName)
}

func TestFlow_GetFlowByName(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	first, err := service.CreateFlow(ctx, "dup")
	require.NoError(t, err)

	_, err = service.CreateFlow(ctx, "dup")
	require.NoError(t, err)

	got, err := service.GetFlowByName(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = service.GetFlowByName(ctx, "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestFlow_GetFlows(t *testing.T) {
	service, _ := newTestService(t)
	alice := persistencetest.Context("alice")

	for _, name := range []string{"b", "a", "c"} {
		_, err := service.CreateFlow(alice, name)
		require.NoError(t, err)
	}

	_, err := service.CreateFlow(persistencetest.Context("bob"), "bob's")
	require.NoError(t, err)

	result, err := service.GetFlows(alice, ListFlowsRequest{SortBy: "name", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Flows, 2)
	assert.Equal(t, "a", result.Flows[0].Name)
	assert.Equal(t, "b", result.Flows[1].Name)
}

func TestFlow_RenameFlow(t *testing.T) {
	service, bus := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "before")
	require.NoError(t, err)

	renamed, err := service.RenameFlow(ctx, flow.ID, RenameFlowRequest{Name: "after"})
	require.NoError(t, err)
	assert.Equal(t, "after", renamed.Name)

	versions, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Number)
	assert.Equal(t, "after", versions[0].Flow.Name)

	var renames []events.FlowRenamed

	for _, event := range publishedEvents(bus) {
		if e, ok := event.(events.FlowRenamed); ok {
			renames = append(renames, e)
		}
	}

	require.Len(t, renames, 1)
	assert.Equal(t, "before", renames[0].OldName)
	assert.Equal(t, "after", renames[0].NewName)
}

func TestFlow_UnchangedContentKeepsVersion(t *testing.T) {
	service, bus := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "same")
	require.NoError(t, err)

	renamed, err := service.RenameFlow(ctx, flow.ID, RenameFlowRequest{Name: "same"})
	require.NoError(t, err)
	assert.True(t, flow.UpdatedAt.Equal(renamed.UpdatedAt), "nothing is saved")

	stored, err := service.GetFlow(ctx, flow.ID)
	require.NoError(t, err)

	_, err = service.UpdateFlow(ctx, flow.ID, stored)
	require.NoError(t, err)

	versions, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	published := publishedEvents(bus)
	require.Len(t, published, 1)
	assert.IsType(t, events.FlowCreated{}, published[0])
}

func TestFlow_ConcurrentRenames(t *testing.T) {
	backends := map[string]func(t *testing.T) persistence.Persistence{
		"sqlite": func(t *testing.T) persistence.Persistence {
			p, err := sqlite.NewPersistence(context.Background(), slog.Default(), filepath.Join(t.TempDir(), "flows.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close(context.Background()) })

			return p
		},
		"file": func(t *testing.T) persistence.Persistence {
			return file.NewPersistence(t.TempDir())
		},
	}

	const renames = 40

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			service := NewFlow(open(t), newTestRegistry(t), slog.Default())
			ctx := persistencetest.Context("alice")

			flow, err := service.CreateFlow(ctx, "contended")
			require.NoError(t, err)

			var wg sync.WaitGroup

			errs := make(chan error, renames)

			for i := range renames {
				wg.Add(1)

				go func() {
					defer wg.Done()

					_, err := service.RenameFlow(ctx, flow.ID, RenameFlowRequest{Name: fmt.Sprintf("name-%d", i)})
					errs <- err
				}()
			}

			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}

			versions, err := service.GetFlowVersions(ctx, flow.ID)
			require.NoError(t, err)
			require.Len(t, versions, renames+1)

			for i, version := range versions {
				assert.Equal(t, renames+1-i, version.Number)
			}
		})
	}
}

func TestFlow_CreateFlowRemovesFlowWithoutFirstVersion(t *testing.T) {
	repo := &mocks.MockFlowRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("AppendVersion", mock.Anything, mock.Anything).
		Return(false, persistence.Unavailable("AppendVersion", "", errors.New("disk full")))
	repo.On("Delete", mock.Anything, mock.Anything).Return(nil)

	backend := &mocks.MockPersistence{}
	backend.On("FlowRepository").Return(repo)

	bus := &mocks.MockEventBus{}
	service := NewFlow(backend, newTestRegistry(t), slog.Default(), WithPublisher(bus))

	_, err := service.CreateFlow(persistencetest.Context("alice"), "orphan")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	created := repo.Calls[0].Arguments.Get(1).(*models.Flow)
	repo.AssertCalled(t, "Delete", mock.Anything, created.ID)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_VersionConflictIsConflict(t *testing.T) {
	err := persistence.NewFlowError("AppendVersion", "f1", persistence.ErrVersionConflict)

	assert.True(t, IsConflictError(err))
	assert.False(t, IsUnavailable(err))
}

func TestFlow_UpdateFlow(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "diamond")
	require.NoError(t, err)

	document := testutil.CreateTestFlowWithNodes(testutil.WithFlowName("diamond"))
	document.ID = "ignored"
	document.Owner = "mallory"

	updated, err := service.UpdateFlow(ctx, flow.ID, document)
	require.NoError(t, err)
	assert.Equal(t, flow.ID, updated.ID)
	assert.Equal(t, "alice", updated.Owner)
	assert.Equal(t, flow.CreatedAt, updated.CreatedAt)
	assert.Len(t, updated.Actions, 3)

	plan, err := service.Plan(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.DefaultTriggerName, "A", "B", "C"}, plan.Order)
	assert.Equal(t, [][]string{{models.DefaultTriggerName}, {"A", "B"}, {"C"}}, plan.Layers)

	cyclic := testutil.CreateTestFlow(testutil.WithActions(
		testutil.CreateTestNode("x", testutil.WithDependsOn("y")),
		testutil.CreateTestNode("y", testutil.WithDependsOn("x")),
	))

	_, err = service.UpdateFlow(ctx, flow.ID, cyclic)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, models.ErrCyclicDependency)

	stored, err := service.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Actions, 3)

	_, err = service.UpdateFlow(ctx, flow.ID, nil)
	assert.ErrorIs(t, err, ErrFlowNil)
}

func TestFlow_NodeMutations(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "nodes")
	require.NoError(t, err)

	fetch := models.NewAction("fetch", "rest", models.DefaultTriggerName)

	updated, err := service.AddNode(ctx, flow.ID, fetch)
	require.NoError(t, err)
	require.Len(t, updated.Actions, 1)

	added := updated.Actions[0]
	assert.Equal(t, []string{"url", "method", "headers", "body"}, added.Config.Keys())
	assert.Equal(t, models.BaseHandles(), added.Handles)
	assert.Empty(t, fetch.Config, "input node is not modified")

	_, err = service.AddNode(ctx, flow.ID, models.NewAction("notify", "send_chat", "fetch"))
	require.NoError(t, err)

	_, err = service.AddEdge(ctx, flow.ID, models.Edge{Source: "fetch", Target: "notify"})
	require.NoError(t, err)

	_, err = service.UpdateNodeConfig(ctx, flow.ID, "fetch", models.Config{
		{Key: "url", Value: "https://example.com"},
		{Key: "method", Value: "POST"},
	})
	require.NoError(t, err)

	renamed := models.NewAction("call", "rest", models.DefaultTriggerName)
	renamed.Config = models.Config{{Key: "url", Value: "https://example.com"}}

	updated, err = service.UpdateNode(ctx, flow.ID, "fetch", renamed)
	require.NoError(t, err)

	notify, ok := updated.Node("notify")
	require.True(t, ok)
	assert.Equal(t, []string{"call"}, notify.DependsOn())
	assert.Equal(t, []models.Edge{{Source: "call", Target: "notify"}}, updated.Edges)

	updated, err = service.RemoveEdge(ctx, flow.ID, models.Edge{Source: "call", Target: "notify"})
	require.NoError(t, err)
	assert.Empty(t, updated.Edges)

	updated, err = service.RemoveNode(ctx, flow.ID, "call")
	require.NoError(t, err)
	require.Len(t, updated.Actions, 1)
	assert.Empty(t, updated.Actions[0].DependsOn())

	versions, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 8)
	assert.Equal(t, 8, versions[0].Number)
}

func TestFlow_NodeMutationErrors(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "errors")
	require.NoError(t, err)

	_, err = service.AddNode(ctx, flow.ID, models.NewAction("a", "javascript", models.DefaultTriggerName))
	require.NoError(t, err)

	badMethod := models.NewAction("b", "rest", "a")
	badMethod.Config = models.Config{{Key: "method", Value: "FETCH"}}

	tests := []struct {
		name    string
		call    func() error
		checkFn func(error) bool
		target  error
	}{
		{
			name:    "duplicate name",
			call:    func() error { _, err := service.AddNode(ctx, flow.ID, models.NewAction("a", "javascript")); return err },
			checkFn: IsValidationError,
			target:  models.ErrDuplicateNodeName,
		},
		{
			name:    "dangling dependency",
			call:    func() error { _, err := service.AddNode(ctx, flow.ID, models.NewAction("c", "javascript", "ghost")); return err },
			checkFn: IsValidationError,
			target:  models.ErrDanglingReference,
		},
		{
			name:    "config rejected by node type",
			call:    func() error { _, err := service.AddNode(ctx, flow.ID, badMethod); return err },
			checkFn: IsValidationError,
			target:  registry.ErrInvalidConfig,
		},
		{
			name:    "remove the trigger",
			call:    func() error { _, err := service.RemoveNode(ctx, flow.ID, models.DefaultTriggerName); return err },
			checkFn: IsValidationError,
			target:  models.ErrTriggerRemoval,
		},
		{
			name:    "update unknown node",
			call:    func() error { _, err := service.UpdateNodeConfig(ctx, flow.ID, "ghost", nil); return err },
			checkFn: IsNotFoundError,
			target:  models.ErrNodeNotFound,
		},
		{
			name: "duplicate edge",
			call: func() error {
				edge := models.Edge{Source: models.DefaultTriggerName, Target: "a"}
				if _, err := service.AddEdge(ctx, flow.ID, edge); err != nil {
					return err
				}

				_, err := service.AddEdge(ctx, flow.ID, edge)

				return err
			},
			checkFn: IsConflictError,
			target:  models.ErrEdgeExists,
		},
		{
			name:    "remove missing edge",
			call:    func() error { _, err := service.RemoveEdge(ctx, flow.ID, models.Edge{Source: "a", Target: "b"}); return err },
			checkFn: IsNotFoundError,
			target:  models.ErrEdgeNotFound,
		},
		{
			name:    "unknown flow",
			call:    func() error { _, err := service.RemoveNode(ctx, persistence.NewID(), "a"); return err },
			checkFn: IsNotFoundError,
			target:  ErrFlowNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	stored, err := service.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, stored.Actions, 1)
	assert.Equal(t, "a", stored.Actions[0].Name)
}

func TestFlow_Toml(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "toml")
	require.NoError(t, err)

	_, err = service.UpdateFlow(ctx, flow.ID, testutil.CreateTestFlowWithNodes(testutil.WithFlowName("toml")))
	require.NoError(t, err)

	data, err := service.ReadToml(ctx, flow.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), `flowName = "toml"`)

	before, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)

	imported, err := service.WriteToml(ctx, flow.ID, data)
	require.NoError(t, err)
	assert.Len(t, imported.Actions, 3)

	after, err := service.GetFlowVersions(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "same content adds no version")

	_, err = service.WriteToml(ctx, flow.ID, []byte("flowName = ["))
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.True(t, IsValidationError(err))
}

func TestFlow_DeleteFlow(t *testing.T) {
	service, bus := newTestService(t)
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "doomed")
	require.NoError(t, err)

	require.NoError(t, service.DeleteFlow(ctx, flow.ID))

	_, err = service.GetFlow(ctx, flow.ID)
	assert.True(t, IsNotFoundError(err))

	err = service.DeleteFlow(ctx, flow.ID)
	assert.True(t, IsNotFoundError(err))

	published := publishedEvents(bus)
	deleted, ok := published[len(published)-1].(events.FlowDeleted)
	require.True(t, ok)
	assert.Equal(t, flow.ID, deleted.FlowID)
}

func TestFlow_OwnerScoping(t *testing.T) {
	service, _ := newTestService(t)
	alice := persistencetest.Context("alice")
	bob := persistencetest.Context("bob")

	flow, err := service.CreateFlow(alice, "private")
	require.NoError(t, err)

	_, err = service.GetFlow(bob, flow.ID)
	assert.True(t, IsNotFoundError(err))

	_, err = service.RenameFlow(bob, flow.ID, RenameFlowRequest{Name: "stolen"})
	assert.True(t, IsNotFoundError(err))

	_, err = service.GetFlowVersions(bob, flow.ID)
	assert.True(t, IsNotFoundError(err))

	stored, err := service.GetFlow(alice, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", stored.Name)
}

func TestFlow_PublishFailureKeepsChange(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	service := NewFlow(memory.NewPersistence(), newTestRegistry(t), slog.Default(), WithPublisher(bus))
	ctx := persistencetest.Context("alice")

	flow, err := service.CreateFlow(ctx, "resilient")
	require.NoError(t, err)

	_, err = service.GetFlow(ctx, flow.ID)
	require.NoError(t, err)

	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestFlow_BackendErrorsPassThrough(t *testing.T) {
	repo := &mocks.MockFlowRepository{}
	repo.On("GetByID", mock.Anything, "f1").Return(nil, persistence.Unavailable("GetByID", "f1", errors.New("dial tcp: refused")))

	backend := &mocks.MockPersistence{}
	backend.On("FlowRepository").Return(repo)

	service := NewFlow(backend, newTestRegistry(t), slog.Default())

	_, err := service.GetFlow(persistencetest.Context("alice"), "f1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsNotFoundError(err))

	repo.AssertExpectations(t)
}

func TestFlow_ValidateFlow(t *testing.T) {
	service, _ := newTestService(t)
	ctx := persistencetest.Context("alice")

	require.NoError(t, service.ValidateFlow(ctx, testutil.CreateTestFlowWithNodes()))

	broken := testutil.CreateTestFlow(testutil.WithActions(
		testutil.CreateTestNode("a", testutil.WithDependsOn("ghost")),
		testutil.CreateTestNode("a"),
	))

	err := service.ValidateFlow(ctx, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDuplicateNodeName)
	assert.ErrorIs(t, err, models.ErrDanglingReference)

	assert.ErrorIs(t, service.ValidateFlow(ctx, nil), ErrFlowNil)
	assert.ErrorIs(t, service.ValidateFlow(context.Background(), broken), ErrUnauthorized)
}
