package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/question"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func errConflict(name string) error {
	return apperrors.Conflict("NAME_TAKEN", fmt.Sprintf("display name %q is already in use", name))
}

func questionAnswer(choice int, confirmed bool, text string) question.Answer {
	return question.Answer{Choice: choice, Confirmed: confirmed, Text: text}
}

// signalToState maps a structured signal to the state it drives a session to
// (spec §4.4 step 1, §4.7 state diagram): signals are the highest-trust
// source and always win over the classifier's regex fallback.
var signalToState = map[v1.SignalKind]v1.LifecycleState{
	v1.SignalStarting:   v1.StateStarting,
	v1.SignalWorking:    v1.StateWorking,
	v1.SignalIdle:       v1.StateIdle,
	v1.SignalNeedsInput: v1.StateNeedsInput,
	v1.SignalReview:     v1.StateReadyForReview,
	v1.SignalCompleting: v1.StateCompleting,
	v1.SignalCompleted:  v1.StateCompleted,
	v1.SignalCompacting: v1.StateCompacting,
}

// OnSignal implements signalintake.Subscriber: a structured signal
// authoritatively updates session state and, for `review`, triggers the
// autopilot (spec §4.4, §4.7).
func (s *Supervisor) OnSignal(ctx context.Context, sig v1.Signal) {
	s.enqueue(func(ctx context.Context) { s.handleSignal(ctx, sig) })
}

func (s *Supervisor) handleSignal(ctx context.Context, sig v1.Signal) {
	sessionID, ok := s.resolveSessionName(sig.Session)
	if !ok {
		return
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	rec.lastSignal = &sig

	newState, ok := signalToState[sig.Kind]
	if !ok {
		return
	}

	if sig.Kind == v1.SignalCompleted && rec.killOnCompletion {
		s.killLocked(ctx, sessionID, "epic-chain-complete")
		return
	}

	s.setState(ctx, rec, newState, "signal:"+string(sig.Kind))

	if sig.Kind == v1.SignalReview {
		s.runAutopilot(ctx, rec)
	}
}

// resolveSessionName maps either a session-id or a tmux display-name to the
// session-id (signals report the tmux session name, spec §6.1).
func (s *Supervisor) resolveSessionName(nameOrID string) (string, bool) {
	if _, ok := s.sessions[nameOrID]; ok {
		return nameOrID, true
	}
	if id, ok := s.byName[nameOrID]; ok {
		return id, true
	}
	return "", false
}

// OnCaptureDelta implements capture.Subscriber: in the absence of a more
// recent signal, terminal output is scored by the Classifier to derive
// lifecycle state (spec §4.4 steps 1-2).
func (s *Supervisor) OnCaptureDelta(ctx context.Context, d capture.Delta) {
	s.enqueue(func(ctx context.Context) { s.handleCaptureDelta(ctx, d) })
}

func (s *Supervisor) handleCaptureDelta(ctx context.Context, d capture.Delta) {
	rec, ok := s.sessions[d.SessionID]
	if !ok {
		return
	}
	if s.classif == nil {
		return
	}
	tail := d.Snapshot
	if len(tail) > 100 {
		tail = tail[len(tail)-100:]
	}
	newState := s.classif.Classify(time.Now(), rec.lastSignal, d.Lines, tail)
	s.setState(ctx, rec, newState, "classifier")

	if s.questions != nil {
		// Hook-deposited questions take priority; the fallback extractor is
		// gated by PollHookFiles/ExtractFallback's own pending-question check
		// (spec §4.6, §9).
		s.questions.PollHookFiles(ctx, d.SessionID, rec.session.DisplayName)
		s.questions.ExtractFallback(ctx, d.SessionID, rec.session.DisplayName, d.Snapshot)
	}
}

// MarkMissing implements rules.DeathNotifier: a Structural action failure
// (session disappeared mid-action) transitions the session to killed
// (spec §4.5, §7).
func (s *Supervisor) MarkMissing(ctx context.Context, sessionID string) {
	s.enqueue(func(ctx context.Context) {
		rec, ok := s.sessions[sessionID]
		if !ok {
			return
		}
		s.setState(ctx, rec, v1.StateKilled, "action-failure-missing")
	})
}

// Notify implements rules.Notifier for notify_only actions: the message is
// written to the daemon log at info level. No listener or SSE event is
// published, and the session's state is unchanged.
func (s *Supervisor) Notify(ctx context.Context, sessionID, message string) {
	s.log.Info("notify_only", zap.String("session_id", sessionID), zap.String("message", message))
}

// Kill implements spec §4.7's explicit kill action: the Terminal Bus session
// is destroyed and the session transitions to killed.
func (s *Supervisor) Kill(ctx context.Context, sessionID string) error {
	return s.call(func(ctx context.Context) error {
		return s.killLocked(ctx, sessionID, "explicit-kill")
	})
}

func (s *Supervisor) killLocked(ctx context.Context, sessionID, cause string) error {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.idWatcher != nil {
		s.idWatcher.Forget(sessionID)
	}
	s.captureEng.StopSession(sessionID)
	_ = s.bus.Kill(ctx, rec.session.DisplayName)
	if s.mailbus != nil {
		if err := s.mailbus.ReleaseReservations(ctx, sessionID); err != nil {
			s.log.Warn("failed to release mailbus reservations", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	s.setState(ctx, rec, v1.StateKilled, cause)
	delete(s.sessions, sessionID)
	delete(s.byName, rec.session.DisplayName)
	s.notifyListeners(func(l StateListener) { l.OnSessionRemoved(ctx, sessionID) })
	return nil
}

// Rename implements spec §4.7's explicit rename action (distinct from the
// one-time identity-registration rename): fails with a conflict if the
// requested name is already in use (spec §4.1, §8 Scenario F).
func (s *Supervisor) Rename(ctx context.Context, sessionID, newName string) error {
	return s.call(func(ctx context.Context) error {
		rec, ok := s.sessions[sessionID]
		if !ok {
			return nil
		}
		if _, taken := s.byName[newName]; taken {
			return errConflict(newName)
		}
		if err := s.bus.Rename(ctx, rec.session.DisplayName, newName); err != nil {
			return err
		}
		delete(s.byName, rec.session.DisplayName)
		rec.session.DisplayName = newName
		s.byName[newName] = sessionID
		return nil
	})
}

// AnswerQuestion implements spec §6.6's answer-question endpoint. A pending
// review decision (spec §4.7 autopilot) is routed to ResolveReviewDecision
// instead of generic keystroke injection, since its options are dispositions
// ("complete" / "complete_and_kill"), not literal terminal input.
func (s *Supervisor) AnswerQuestion(ctx context.Context, sessionID string, choice int, choiceValue string, confirmed bool, text string) error {
	isReview := false
	_ = s.call(func(ctx context.Context) error {
		isReview = s.reviewDecisionPending[sessionID]
		return nil
	})
	if isReview {
		return s.ResolveReviewDecision(ctx, sessionID, choiceValue)
	}
	return s.questions.Answer(ctx, sessionID, questionAnswer(choice, confirmed, text))
}

// CancelQuestion implements spec §6.6's cancel path for a pending question.
func (s *Supervisor) CancelQuestion(ctx context.Context, sessionID string) error {
	return s.questions.Cancel(ctx, sessionID)
}

// SendKeys implements spec §4.7's explicit send-keys action.
func (s *Supervisor) SendKeys(ctx context.Context, sessionID, text string) error {
	return s.call(func(ctx context.Context) error {
		rec, ok := s.sessions[sessionID]
		if !ok {
			return nil
		}
		return s.bus.SendText(ctx, rec.session.DisplayName, text)
	})
}
