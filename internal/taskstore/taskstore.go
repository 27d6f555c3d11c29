// Package taskstore wraps the external `bd` CLI, the dependency-aware task
// store tasks are authored into (spec §1 "Humans and agents author tasks in
// a dependency-aware task store"; out of scope per spec's Non-goals — this
// package treats it as an opaque collaborator invoked as a subprocess),
// grounded on the teacher's exec.CommandContext + JSON-stdout pattern
// (internal/agent/settings/modelfetcher/fetcher.go executeDynamicFetch).
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
)

const defaultTimeout = 10 * time.Second

// Config points at the `bd` binary.
type Config struct {
	BinaryPath string
}

// Store shells out to `bd` for task lookups. It implements
// orchestrator.TaskStore.
type Store struct {
	binaryPath string
	log        *logging.Logger
}

var _ orchestrator.TaskStore = (*Store)(nil)

// New creates a Store.
func New(cfg Config, log *logging.Logger) *Store {
	bin := cfg.BinaryPath
	if bin == "" {
		bin = "bd"
	}
	return &Store{binaryPath: bin, log: log.WithFields(zap.String("component", "taskstore"))}
}

// bdTaskView is the subset of `bd show --json <id>`'s output this package
// consumes (task-type and priority, for the autopilot's ReviewPolicy
// lookup, spec §4.7).
type bdTaskView struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
}

// TaskInfo implements orchestrator.TaskStore: runs `bd show --json <taskID>`
// and extracts (task-type, priority).
func (s *Store) TaskInfo(ctx context.Context, taskID string) (orchestrator.TaskInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binaryPath, "show", "--json", taskID)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return orchestrator.TaskInfo{}, fmt.Errorf("bd show timed out after %v", defaultTimeout)
		}
		return orchestrator.TaskInfo{}, fmt.Errorf("bd show %s: %w (stderr: %s)", taskID, err, stderr.String())
	}

	var view bdTaskView
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		return orchestrator.TaskInfo{}, fmt.Errorf("parsing bd show output for %s: %w", taskID, err)
	}
	return orchestrator.TaskInfo{TaskType: view.Type, Priority: view.Priority}, nil
}

// MarkComplete runs `bd complete <taskID>`, called wherever the
// Orchestrator sends `/jat:complete` to a session's terminal — the
// autopilot's auto path (spec §4.7 step 3) and both review-decision
// outcomes (step 4) — so the task store's record agrees with the agent.
func (s *Store) MarkComplete(ctx context.Context, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binaryPath, "complete", taskID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bd complete %s: %w (stderr: %s)", taskID, err, stderr.String())
	}
	return nil
}
