package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// SpawnRequest is the input to Spawn (spec §6.6 "POST /api/sessions/spawn
// body { taskId, projectKey, epic? }").
type SpawnRequest struct {
	TaskID     string
	ProjectKey string
	Epic       *v1.EpicContext
}

// Spawn creates one supervised session for taskID (spec §4.7 "Spawning").
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (v1.Session, error) {
	type result struct {
		sess v1.Session
		err  error
	}
	resultCh := make(chan result, 1)
	s.enqueue(func(ctx context.Context) {
		sess, err := s.spawnLocked(ctx, req)
		resultCh <- result{sess, err}
	})
	res := <-resultCh
	return res.sess, res.err
}

func (s *Supervisor) spawnLocked(ctx context.Context, req SpawnRequest) (v1.Session, error) {
	if len(s.sessions) >= s.cfg.MaxSessions {
		return v1.Session{}, apperrors.CapacityExceeded("session cap reached")
	}

	project, err := s.projects.ResolveProject(req.ProjectKey)
	if err != nil {
		return v1.Session{}, apperrors.Validation("UNKNOWN_PROJECT", err.Error())
	}

	sessionID := fmt.Sprintf("sess-%d", time.Now().UnixNano())
	placeholder := fmtPendingName()

	createCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.bus.Create(createCtx, placeholder, project.WorkingDir, project.Width, project.Height, project.StartupCommand); err != nil {
		return v1.Session{}, apperrors.Structural("SPAWN_FAILED", "failed to create tmux session", err)
	}

	rec := &sessionRecord{
		session: v1.Session{
			ID: sessionID, DisplayName: placeholder, TaskID: req.TaskID,
			ProjectKey: req.ProjectKey, SpawnTime: time.Now(), LastActivity: time.Now(),
			State: v1.StatePending, Epic: req.Epic, WorkingDir: project.WorkingDir,
		},
		spawnDeadline: time.Now().Add(s.cfg.ClaudeStartupTimeout),
	}
	s.sessions[sessionID] = rec
	s.byName[placeholder] = sessionID

	s.captureEng.StartSession(ctx, sessionID, placeholder, true)

	if s.idWatcher != nil {
		s.idWatcher.WatchSession(sessionID, project.WorkingDir, func(agentName string) {
			s.enqueue(func(ctx context.Context) { s.completeRename(ctx, sessionID, agentName) })
		})
	}

	s.notifyListeners(func(l StateListener) { l.OnSessionSpawned(ctx, rec.session) })
	s.log.Info("session spawned", zap.String("session_id", sessionID), zap.String("task_id", req.TaskID))
	return rec.session, nil
}

// completeRename implements spec §4.7's rename-on-register: a session is
// renamed from its placeholder to "jat-<agentName>". Scenario F (§8): if
// that name collides with another session's, or the bus rejects it as a
// duplicate, append a numeric suffix and retry once.
func (s *Supervisor) completeRename(ctx context.Context, sessionID, agentName string) {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	newName := "jat-" + agentName
	suffixed := false
	if _, collides := s.byName[newName]; collides {
		newName += "-2"
		suffixed = true
	}
	if err := s.bus.Rename(ctx, rec.session.DisplayName, newName); err != nil {
		if suffixed {
			s.log.Warn("failed to rename session on identity registration",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		newName += "-2"
		if retryErr := s.bus.Rename(ctx, rec.session.DisplayName, newName); retryErr != nil {
			s.log.Warn("failed to rename session on identity registration",
				zap.String("session_id", sessionID), zap.Error(retryErr))
			return
		}
	}
	delete(s.byName, rec.session.DisplayName)
	rec.session.DisplayName = newName
	s.byName[newName] = sessionID
	s.setState(ctx, rec, v1.StateNamed, "identity-registered")
}

// SpawnBatch implements spec §4.7 "Batch spawn with stagger": sessions are
// created sequentially with a blocking sleep between creates, to avoid TUI
// startup contention.
func (s *Supervisor) SpawnBatch(ctx context.Context, reqs []SpawnRequest) ([]v1.Session, error) {
	out := make([]v1.Session, 0, len(reqs))
	for i, req := range reqs {
		sess, err := s.Spawn(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, sess)
		if i < len(reqs)-1 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(s.cfg.AgentStagger):
			}
		}
	}
	return out, nil
}

// spawnEpicNext schedules the next task in an epic chain after the
// configured stagger (spec §4.7 step 3, §8 Scenario example).
func (s *Supervisor) spawnEpicNext(ctx context.Context, fromSessionID, fromTaskID, projectKey, workingDir string, epic *v1.EpicContext) {
	nextTaskID, ok := epic.NextTaskID()
	if !ok {
		return
	}
	advanced := epic.Advance()

	if s.mailbus != nil {
		if err := s.mailbus.NotifyHandoff(ctx, HandoffMessage{
			FromSessionID: fromSessionID, FromTaskID: fromTaskID, ToTaskID: nextTaskID,
			ProjectKey: projectKey, WorkingDir: workingDir, Note: "epic chain advance",
		}); err != nil {
			s.log.Warn("failed to notify mailbus of epic handoff", zap.String("task_id", nextTaskID), zap.Error(err))
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.AgentStagger):
		}
		if _, err := s.Spawn(ctx, SpawnRequest{TaskID: nextTaskID, ProjectKey: projectKey, Epic: advanced}); err != nil {
			s.log.Warn("failed to spawn next epic task", zap.String("task_id", nextTaskID), zap.Error(err))
		}
	}()
}
