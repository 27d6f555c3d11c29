package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// runAutopilot implements spec §4.7's review autopilot: on a `review`
// signal, walk the ReviewPolicy table (first match wins) to decide whether
// the session auto-completes or surfaces a completion decision to the user.
func (s *Supervisor) runAutopilot(ctx context.Context, rec *sessionRecord) {
	info, err := s.taskInfo(ctx, rec.session.TaskID)
	if err != nil {
		s.log.Warn("autopilot: failed to resolve task info, defaulting to manual review",
			zap.String("session_id", rec.session.ID), zap.Error(err))
		s.surfaceReviewDecision(ctx, rec)
		return
	}

	outcome := resolveReviewPolicy(s.cfg.ReviewPolicy, info.TaskType, info.Priority)
	switch outcome {
	case v1.ReviewAuto:
		s.autoComplete(ctx, rec)
	default:
		s.surfaceReviewDecision(ctx, rec)
	}
}

// resolveReviewPolicy walks the policy table in order and returns the first
// matching row's outcome, defaulting to manual review (spec §4.7 "consults a
// policy table").
func resolveReviewPolicy(policy []v1.ReviewPolicyRule, taskType, priority string) v1.ReviewOutcome {
	for _, row := range policy {
		if !globMatch(row.TaskTypePattern, taskType) {
			continue
		}
		if row.PriorityPredicate != "*" && row.PriorityPredicate != priority {
			continue
		}
		return row.Outcome
	}
	return v1.ReviewManual
}

// globMatch supports a trailing "*" wildcard in TaskTypePattern (e.g.
// "bugfix-*"); an exact pattern must match exactly.
func globMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

func (s *Supervisor) taskInfo(ctx context.Context, taskID string) (TaskInfo, error) {
	if s.tasks == nil || taskID == "" {
		return TaskInfo{}, nil
	}
	return s.tasks.TaskInfo(ctx, taskID)
}

// markTaskComplete mirrors the `/jat:complete` sent to the session's
// terminal into the external task store, so the task's canonical record
// agrees with what the agent was just told (spec §4.7 step 3/4: both the
// auto and review-decision completion paths send `/jat:complete`).
func (s *Supervisor) markTaskComplete(ctx context.Context, sessionID, taskID string) {
	if s.tasks == nil || taskID == "" {
		return
	}
	if err := s.tasks.MarkComplete(ctx, taskID); err != nil {
		s.log.Warn("autopilot: failed to mark task complete in task store",
			zap.String("session_id", sessionID), zap.String("task_id", taskID), zap.Error(err))
	}
}

// autoComplete implements the `auto` outcome (spec §4.7 step 3): send
// `/jat:complete\n`, optionally chain the next epic task, and mark the
// session to be killed on its subsequent `completed` signal.
func (s *Supervisor) autoComplete(ctx context.Context, rec *sessionRecord) {
	s.setState(ctx, rec, v1.StateCompleting, "autopilot:auto")
	if err := s.bus.SendText(ctx, rec.session.DisplayName, "/jat:complete"); err != nil {
		s.log.Warn("autopilot: failed to send complete command", zap.String("session_id", rec.session.ID), zap.Error(err))
		return
	}
	if err := s.bus.SendKeys(ctx, rec.session.DisplayName, "Enter"); err != nil {
		s.log.Warn("autopilot: failed to send enter after complete command", zap.String("session_id", rec.session.ID), zap.Error(err))
		return
	}
	s.markTaskComplete(ctx, rec.session.ID, rec.session.TaskID)

	if rec.session.Epic != nil {
		s.spawnEpicNext(ctx, rec.session.ID, rec.session.TaskID, rec.session.ProjectKey, rec.session.WorkingDir, rec.session.Epic)
	}
	rec.killOnCompletion = true
}

// surfaceReviewDecision implements the `review` outcome: present a
// Complete vs Complete&Kill decision via the Question Surface rather than
// a passive notification, so the user's choice can be answered the same
// way any other pending question is (spec §4.7, §4.6).
func (s *Supervisor) surfaceReviewDecision(ctx context.Context, rec *sessionRecord) {
	if s.questions == nil {
		return
	}
	cfg := v1.QuestionUIConfig{
		Kind:     v1.QuestionChoice,
		Question: "Ready for review. Complete this session?",
		Options: []v1.QuestionOption{
			{Label: "Complete", Value: "complete"},
			{Label: "Complete & Kill", Value: "complete_and_kill"},
		},
	}
	if err := s.questions.CreateSynthetic(ctx, rec.session.ID, rec.session.DisplayName, cfg); err != nil {
		s.log.Warn("autopilot: failed to surface review decision", zap.String("session_id", rec.session.ID), zap.Error(err))
		return
	}
	s.reviewDecisionPending[rec.session.ID] = true
}

// ResolveReviewDecision answers a surfaced review-decision question (spec
// §8 Scenario example: "User picks Complete & Kill"). value is the chosen
// QuestionOption.Value ("complete" or "complete_and_kill").
func (s *Supervisor) ResolveReviewDecision(ctx context.Context, sessionID, value string) error {
	return s.call(func(ctx context.Context) error {
		rec, ok := s.sessions[sessionID]
		if !ok {
			return nil
		}
		delete(s.reviewDecisionPending, sessionID)
		if err := s.bus.SendText(ctx, rec.session.DisplayName, "/jat:complete"); err != nil {
			return err
		}
		if err := s.bus.SendKeys(ctx, rec.session.DisplayName, "Enter"); err != nil {
			return err
		}
		s.setState(ctx, rec, v1.StateCompleting, "review-decision:"+value)
		s.markTaskComplete(ctx, rec.session.ID, rec.session.TaskID)
		if value == "complete_and_kill" {
			if rec.session.Epic != nil {
				s.spawnEpicNext(ctx, rec.session.ID, rec.session.TaskID, rec.session.ProjectKey, rec.session.WorkingDir, rec.session.Epic)
			}
			rec.killOnCompletion = true
		}
		return nil
	})
}
