package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRule(id string, priority int) v1.Rule {
	return v1.Rule{
		ID: id, Name: id, Category: v1.CategoryCustom, Enabled: true, Priority: priority,
		Patterns: []v1.Pattern{{Mode: v1.PatternLiteral, Text: "foo"}},
		Actions:  []v1.Action{{Kind: v1.ActionNotifyOnly, Payload: "bar"}},
	}
}

func TestSQLiteStoreUpsertAndSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testRule("r1", 5)))
	require.NoError(t, s.Upsert(ctx, testRule("r2", 10)))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "r2", snap[0].ID, "priority-descending order")
	assert.Equal(t, "foo", snap[0].Patterns[0].Text)
}

func TestSQLiteStoreInvalidRuleDisabledNotRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := testRule("bad", 1)
	bad.Patterns = nil
	require.NoError(t, s.Upsert(ctx, bad))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Enabled)
	assert.NotEmpty(t, snap[0].ValidationError)
}

func TestSQLiteStoreExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRule("r1", 5)))
	require.NoError(t, s.Upsert(ctx, testRule("r2", 10)))

	exported, err := s.Export(ctx)
	require.NoError(t, err)

	s2 := newTestStore(t)
	require.NoError(t, s2.Import(ctx, exported, ImportReplace))

	snap, err := s2.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
}

func TestSQLiteStoreReorder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRule("r1", 1)))
	require.NoError(t, s.Upsert(ctx, testRule("r2", 1)))

	require.NoError(t, s.Reorder(ctx, []string{"r2", "r1"}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "r2", snap[0].ID)
}

func TestSQLiteStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, testRule("r1", 1)))
	require.NoError(t, s.Delete(ctx, "r1"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}
