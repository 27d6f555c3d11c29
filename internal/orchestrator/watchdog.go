package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// watchdogTick implements spec §4.7's watchdog: every 5s, ping the Terminal
// Bus for each live session and mark it killed if it has disappeared out
// from under the Orchestrator. It also enforces the startup timeout for
// sessions still pending (spec §4.7 "Batch spawn with stagger").
func (s *Supervisor) watchdogTick(ctx context.Context) {
	now := time.Now()
	ids := make([]string, 0, len(s.sessions))
	for id, rec := range s.sessions {
		if rec.session.State == v1.StatePending && now.After(rec.spawnDeadline) {
			s.setState(ctx, rec, v1.StateDead, "startup-timeout")
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}

	// Existence checks hit the tmux binary per session; fan them out
	// concurrently so one slow/hung check doesn't delay the whole tick.
	missing := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		rec := s.sessions[id]
		g.Go(func() error {
			exists, err := s.bus.Exists(gctx, rec.session.DisplayName)
			if err != nil {
				s.log.Debug("watchdog: existence check failed", zap.String("session_id", id), zap.Error(err))
				return nil
			}
			missing[i] = !exists
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if !missing[i] {
			continue
		}
		rec, ok := s.sessions[id]
		if !ok {
			continue
		}
		s.log.Warn("watchdog: session disappeared from terminal bus", zap.String("session_id", id))
		s.setState(ctx, rec, v1.StateKilled, "watchdog-disappeared")
		delete(s.sessions, id)
		delete(s.byName, rec.session.DisplayName)
		s.notifyListeners(func(l StateListener) { l.OnSessionRemoved(ctx, id) })
	}
}
