// Package persistencetest holds the behaviour every flow repository backend
// must show. Backend tests call Run with a constructor for a fresh store.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) persistence.Persistence

// Context returns a context carrying a session for principal.
func Context(principal string) context.Context {
	return session.WithSession(context.Background(), &session.Session{
		Token:     "token-" + principal,
		Principal: principal,
		Username:  principal,
		ExpiresAt: time.Now().Add(time.Hour),
	})
}

// SampleFlow returns a valid flow with two actions and an edge.
func SampleFlow(name string) *models.Flow {
	f := models.NewFlow(name)
	f.Description = "sample"
	f.Variables = models.Variables{{Key: "zeta", Value: "1"}, {Key: "alpha", Value: "2"}}

	fetch := models.NewAction("fetch", "rest", models.DefaultTriggerName)
	fetch.Config = models.Config{{Key: "url", Value: "https://example.com"}, {Key: "method", Value: "GET"}}
	fetch.Handles = models.BaseHandles()

	notify := models.NewAction("notify", "send_chat")
	notify.Presentation = &models.Presentation{Position: models.Point{X: 10, Y: 20}}

	f.Actions = []*models.Node{fetch, notify}
	f.Edges = []models.Edge{{Source: "fetch", Target: "notify"}}

	return f
}

// AssertSameDocument compares the document content of two flows, leaving
// out timestamps whose precision depends on the backend.
func AssertSameDocument(t *testing.T, want, got *models.Flow) {
	t.Helper()

	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Owner, got.Owner)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.Environment, got.Environment)
	assert.Equal(t, want.Variables, got.Variables)
	assert.Equal(t, want.Trigger, got.Trigger)
	assert.Equal(t, want.Actions, got.Actions)

	if len(want.Edges) == 0 {
		assert.Empty(t, got.Edges)
	} else {
		assert.Equal(t, want.Edges, got.Edges)
	}
}

// Run exercises a backend against the repository contract.
func Run(t *testing.T, factory Factory) {
	t.Run("requires a session", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := context.Background()

		assert.ErrorIs(t, repo.Create(ctx, SampleFlow("x")), persistence.ErrUnauthorized)

		_, err := repo.GetByID(ctx, "any")
		assert.ErrorIs(t, err, persistence.ErrUnauthorized)

		_, err = repo.List(ctx, persistence.ListFlowsOptions{})
		assert.ErrorIs(t, err, persistence.ErrUnauthorized)

		expired := session.WithSession(ctx, &session.Session{Principal: "u", ExpiresAt: time.Now().Add(-time.Second)})
		_, err = repo.GetByName(expired, "x")
		assert.ErrorIs(t, err, persistence.ErrUnauthorized)
	})

	t.Run("create and get", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("first")
		require.NoError(t, repo.Create(ctx, flow))

		assert.NotEmpty(t, flow.ID)
		assert.Equal(t, "alice", flow.Owner)
		assert.False(t, flow.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		AssertSameDocument(t, flow, got)
		assert.WithinDuration(t, flow.CreatedAt, got.CreatedAt, time.Second)

		got.Actions[0].Config.Set("url", "changed")

		again, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		AssertSameDocument(t, flow, again)

		err = repo.Create(ctx, flow)
		assert.ErrorIs(t, err, persistence.ErrFlowAlreadyExists)
	})

	t.Run("save replaces the document", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("before")
		require.NoError(t, repo.Create(ctx, flow))

		require.NoError(t, flow.Rename("after"))
		require.NoError(t, flow.RemoveNode("notify"))
		require.NoError(t, repo.Save(ctx, flow))

		got, err := repo.GetByID(ctx, flow.ID)
		require.NoError(t, err)
		AssertSameDocument(t, flow, got)
		assert.Len(t, got.Actions, 1)
		assert.Empty(t, got.Edges)

		missing := SampleFlow("ghost")
		missing.ID = persistence.NewID()
		assert.ErrorIs(t, repo.Save(ctx, missing), persistence.ErrFlowNotFound)
	})

	t.Run("flows are scoped to their owner", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		alice := Context("alice")
		bob := Context("bob")

		flow := SampleFlow("private")
		require.NoError(t, repo.Create(alice, flow))

		_, err := repo.GetByID(bob, flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		_, err = repo.GetByName(bob, "private")
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		assert.ErrorIs(t, repo.Save(bob, flow.Clone()), persistence.ErrFlowNotFound)
		assert.ErrorIs(t, repo.Delete(bob, flow.ID), persistence.ErrFlowNotFound)

		_, err = repo.Versions(bob, flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		list, err := repo.List(bob, persistence.ListFlowsOptions{})
		require.NoError(t, err)
		assert.Empty(t, list.Flows)
		assert.Zero(t, list.TotalCount)
	})

	t.Run("get by name returns the oldest match", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		first := SampleFlow("dup")
		require.NoError(t, repo.Create(ctx, first))

		time.Sleep(5 * time.Millisecond)

		require.NoError(t, repo.Create(ctx, SampleFlow("dup")))

		got, err := repo.GetByName(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = repo.GetByName(ctx, "nothing")
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
	})

	t.Run("list pages and sorts", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		var ids []string

		for i := range 5 {
			flow := SampleFlow(fmt.Sprintf("flow-%c", 'e'-i))
			require.NoError(t, repo.Create(ctx, flow))

			ids = append(ids, flow.ID)

			time.Sleep(5 * time.Millisecond)
		}

		page, err := repo.List(ctx, persistence.ListFlowsOptions{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.TotalCount)
		assert.True(t, page.HasNextPage)
		require.Len(t, page.Flows, 2)
		assert.Equal(t, ids[4], page.Flows[0].ID)
		assert.Equal(t, ids[3], page.Flows[1].ID)

		last, err := repo.List(ctx, persistence.ListFlowsOptions{Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.False(t, last.HasNextPage)
		require.Len(t, last.Flows, 1)
		assert.Equal(t, ids[0], last.Flows[0].ID)

		byName, err := repo.List(ctx, persistence.ListFlowsOptions{SortBy: "name", SortOrder: "asc"})
		require.NoError(t, err)
		require.Len(t, byName.Flows, 5)
		assert.Equal(t, "flow-a", byName.Flows[0].Name)
		assert.Equal(t, "flow-e", byName.Flows[4].Name)
		assert.Equal(t, "alice", byName.Flows[0].Owner)

		past, err := repo.List(ctx, persistence.ListFlowsOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past.Flows)

		_, err = repo.List(ctx, persistence.ListFlowsOptions{SortBy: "owner; DROP TABLE flows"})
		assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
	})

	t.Run("versions are numbered and listed newest first", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("versioned")
		require.NoError(t, repo.Create(ctx, flow))

		for n := 1; n <= 3; n++ {
			snapshot := flow.Clone()
			snapshot.Description = fmt.Sprintf("rev %d", n)

			version := &models.FlowVersion{
				FlowID:   flow.ID,
				Version:  snapshot.Version,
				Checksum: fmt.Sprintf("sum-%d", n),
				Flow:     snapshot,
			}

			stored, err := repo.AppendVersion(ctx, version)
			require.NoError(t, err)
			assert.True(t, stored)
			assert.Equal(t, n, version.Number)
			assert.NotEmpty(t, version.ID)
		}

		versions, err := repo.Versions(ctx, flow.ID)
		require.NoError(t, err)
		require.Len(t, versions, 3)

		for i, want := range []int{3, 2, 1} {
			assert.Equal(t, want, versions[i].Number)
			assert.Equal(t, flow.ID, versions[i].FlowID)
			assert.NotEmpty(t, versions[i].ID)
			assert.Equal(t, fmt.Sprintf("sum-%d", want), versions[i].Checksum)
			assert.Equal(t, fmt.Sprintf("rev %d", want), versions[i].Flow.Description)
			assert.Equal(t, flow.Actions, versions[i].Flow.Actions)
		}

		_, err = repo.AppendVersion(ctx, &models.FlowVersion{FlowID: "missing", Flow: flow})
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		_, err = repo.Versions(ctx, persistence.NewID())
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
	})

	t.Run("unchanged snapshot is not stored again", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("steady")
		require.NoError(t, repo.Create(ctx, flow))

		for _, sum := range []string{"same", "same", "other", "same"} {
			_, err := repo.AppendVersion(ctx, &models.FlowVersion{FlowID: flow.ID, Checksum: sum, Flow: flow.Clone()})
			require.NoError(t, err)
		}

		versions, err := repo.Versions(ctx, flow.ID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, []string{"same", "other", "same"}, []string{versions[0].Checksum, versions[1].Checksum, versions[2].Checksum})
	})

	t.Run("concurrent appends get distinct contiguous numbers", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("busy")
		require.NoError(t, repo.Create(ctx, flow))

		const writers = persistence.MaxVersionAttempts

		var wg sync.WaitGroup

		errs := make(chan error, writers)

		for i := range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := repo.AppendVersion(ctx, &models.FlowVersion{
					FlowID:   flow.ID,
					Checksum: fmt.Sprintf("writer-%d", i),
					Flow:     flow.Clone(),
				})
				errs <- err
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		versions, err := repo.Versions(ctx, flow.ID)
		require.NoError(t, err)
		require.Len(t, versions, writers)

		for i, version := range versions {
			assert.Equal(t, writers-i, version.Number)
		}
	})

	t.Run("delete removes flow and history", func(t *testing.T) {
		repo := factory(t).FlowRepository()
		ctx := Context("alice")

		flow := SampleFlow("doomed")
		require.NoError(t, repo.Create(ctx, flow))
		_, err := repo.AppendVersion(ctx, &models.FlowVersion{FlowID: flow.ID, Checksum: "c1", Flow: flow.Clone()})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, flow.ID))

		_, err = repo.GetByID(ctx, flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		_, err = repo.Versions(ctx, flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, flow.ID), persistence.ErrFlowNotFound)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, factory(t).HealthCheck(context.Background()))
	})
}
