package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/store"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedPresetsLoadsBundlesIntoAnEmptyStore(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	s := newTestStore(t)

	require.NoError(t, seedPresets(context.Background(), s, "../../presets", log))

	rules, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
}

func TestSeedPresetsLeavesANonEmptyStoreUntouched(t *testing.T) {
	log, err := logging.New(logging.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	s := newTestStore(t)

	existing := v1.Rule{ID: "user-rule", Name: "user rule", Category: v1.CategoryCustom, Enabled: true}
	require.NoError(t, s.Upsert(context.Background(), existing))

	require.NoError(t, seedPresets(context.Background(), s, "../../presets", log))

	rules, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "user-rule", rules[0].ID)
}
