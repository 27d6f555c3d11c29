package orchestrator

import (
	"context"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Project is what the Config Facade resolves a project-key to (spec §4.7
// step 1 "Resolve project (path, working dir, model, etc.)").
type Project struct {
	WorkingDir     string
	Model          string
	StartupCommand string
	Width, Height  int
}

// ProjectResolver is the Config Facade's project lookup, backed by the
// defaults file and per-project overrides (spec §6.5).
type ProjectResolver interface {
	ResolveProject(projectKey string) (Project, error)
}

// TaskInfo is what the external task store reports about a task, used by
// the autopilot's ReviewPolicy lookup (spec §4.7 "Look up (task-type,
// priority) from the task store").
type TaskInfo struct {
	TaskType string
	Priority string
}

// TaskStore is the opaque external task-store collaborator (out of scope
// per spec §1; treated as an opaque process invoked via a command
// interface — internal/taskstore implements this over the `bd` CLI).
type TaskStore interface {
	TaskInfo(ctx context.Context, taskID string) (TaskInfo, error)
	MarkComplete(ctx context.Context, taskID string) error
}

// HandoffMessage describes one agent's session hand-off to the next agent
// in an epic chain, posted to the agent-mail message bus (spec §1
// "coordinates handoffs between agents through a message bus with
// file-range reservations").
type HandoffMessage struct {
	FromSessionID string
	FromTaskID    string
	ToTaskID      string
	ProjectKey    string
	WorkingDir    string
	Note          string
}

// MailBus is the opaque agent-mail collaborator (spec §1 Non-goals: "the
// agent-mail message bus — treated as an opaque HTTP service"; the spec
// defines only the interfaces the core consumes). internal/mailbus
// implements this over HTTP.
type MailBus interface {
	NotifyHandoff(ctx context.Context, h HandoffMessage) error
	ReleaseReservations(ctx context.Context, sessionID string) error
}

// StateListener is notified on every session state transition, for SSE
// publication (spec §4.7 HTTP/SSE surface "Per-session SSE stream emitting
// state changes").
type StateListener interface {
	OnStateChanged(ctx context.Context, sessionID string, from, to v1.LifecycleState)
	OnSessionSpawned(ctx context.Context, s v1.Session)
	OnSessionRemoved(ctx context.Context, sessionID string)
}
