package sqlite_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/persistence/persistencetest"
	"github.com/dukex/anyflow/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T, path string) *sqlite.Persistence {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := sqlite.NewPersistence(context.Background(), logger, path)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = p.Close(context.Background())
	})

	return p
}

func TestSQLitePersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return newTestPersistence(t, filepath.Join(t.TempDir(), "flows.db"))
	})
}

func TestSQLitePersistence_InMemory(t *testing.T) {
	p := newTestPersistence(t, ":memory:")
	ctx := persistencetest.Context("alice")

	flow := persistencetest.SampleFlow("in memory")
	require.NoError(t, p.FlowRepository().Create(ctx, flow))

	got, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	persistencetest.AssertSameDocument(t, flow, got)
}

func TestSQLitePersistence_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flows.db")
	ctx := persistencetest.Context("alice")

	first := newTestPersistence(t, path)
	flow := persistencetest.SampleFlow("durable")
	require.NoError(t, first.FlowRepository().Create(ctx, flow))
	_, err := first.FlowRepository().AppendVersion(ctx, &models.FlowVersion{
		FlowID: flow.ID, Version: flow.Version, Checksum: "c1", Flow: flow.Clone(),
	})
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := newTestPersistence(t, path)

	got, err := second.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	persistencetest.AssertSameDocument(t, flow, got)

	versions, err := second.FlowRepository().Versions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Number)
	assert.Equal(t, flow.Actions, versions[0].Flow.Actions)
}

func TestSQLitePersistence_SnapshotsAreCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.db")
	p := newTestPersistence(t, path)
	ctx := persistencetest.Context("alice")

	flow := persistencetest.SampleFlow("compressed")
	require.NoError(t, p.FlowRepository().Create(ctx, flow))
	_, err := p.FlowRepository().AppendVersion(ctx, &models.FlowVersion{
		FlowID: flow.ID, Checksum: "c1", Flow: flow.Clone(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	defer db.Close()

	var raw []byte

	require.NoError(t, db.QueryRow("SELECT document FROM flow_versions WHERE flow_id = ?", flow.ID).Scan(&raw))
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, raw[:4], "zstd frame magic")
}
