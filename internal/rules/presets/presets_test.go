package presets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverLoadsYAMLBundles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
id: a
name: A
rules:
  - id: r1
    name: R1
    category: recovery
    enabled: true
    priority: 1
    patterns:
      - mode: literal
        text: foo
    actions:
      - kind: notify_only
        payload: bar
`), 0o644))

	bundles, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "a", bundles[0].ID)
	require.Len(t, bundles[0].Rules, 1)
	assert.True(t, bundles[0].Rules[0].IsPreset)
	assert.Equal(t, "a", bundles[0].Rules[0].PresetID)
}

func TestDiscoverEmptyDir(t *testing.T) {
	dir := t.TempDir()
	bundles, err := Discover(dir)
	require.NoError(t, err)
	assert.Empty(t, bundles)
}
