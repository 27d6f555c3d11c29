package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

// fakeBD writes a tiny shell script standing in for the `bd` binary, so
// tests never depend on a real task-store installation.
func fakeBD(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake bd script is POSIX-shell only")
	}
	path := filepath.Join(t.TempDir(), "bd")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestTaskInfoParsesShowOutput(t *testing.T) {
	bin := fakeBD(t, `echo '{"type":"bugfix","priority":"p1"}'`)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	s := New(Config{BinaryPath: bin}, log)
	info, err := s.TaskInfo(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "bugfix", info.TaskType)
	assert.Equal(t, "p1", info.Priority)
}

func TestTaskInfoWrapsCommandFailure(t *testing.T) {
	bin := fakeBD(t, `echo "not found" 1>&2; exit 1`)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	s := New(Config{BinaryPath: bin}, log)
	_, err = s.TaskInfo(context.Background(), "missing")
	require.Error(t, err)
}

func TestMarkCompleteSucceeds(t *testing.T) {
	bin := fakeBD(t, `exit 0`)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	s := New(Config{BinaryPath: bin}, log)
	require.NoError(t, s.MarkComplete(context.Background(), "task-1"))
}
