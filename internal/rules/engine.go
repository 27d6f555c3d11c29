// Package rules implements the Automation Rule Engine (spec §4.5): for every
// capture delta it evaluates the enabled rule set in priority order,
// enforces cooldown/trigger caps, and executes matched rules' actions.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/terminalbus"
	"github.com/jpatrickfarrell/jat-sub014/internal/telemetry"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Store provides the current immutable rule snapshot (spec §5 "the rule
// store is copy-on-write: mutations produce a new immutable snapshot; the
// engine reads the current snapshot at the start of each evaluation").
type Store interface {
	Snapshot(ctx context.Context) ([]v1.Rule, error)
}

// SessionLookup resolves the per-session context an evaluation needs: its
// current lifecycle state (for the session-state filter) and display
// name/agent (for template expansion).
type SessionLookup interface {
	SessionContext(sessionID string) (state v1.LifecycleState, displayName, agent string, ok bool)
}

// SignalDepositor is implemented by internal/signalintake.Intake; the
// `signal` action kind deposits a signal as if a hook had fired it.
type SignalDepositor interface {
	Deposit(kind v1.SignalKind, session string, payload map[string]interface{}) error
}

// QuestionCreator is implemented by internal/question.Surface; the
// `show_question_ui` action kind creates a synthetic Question (spec §4.6).
type QuestionCreator interface {
	CreateSynthetic(ctx context.Context, sessionID, displayName string, cfg v1.QuestionUIConfig) error
}

// Notifier surfaces a toast for `notify_only` actions.
type Notifier interface {
	Notify(ctx context.Context, sessionID, message string)
}

// DeathNotifier is told when a Structural failure (session disappeared
// mid-action) should transition the session to killed (spec §4.5 failure
// semantics: "transition to idle->missing... Orchestrator treats as session
// death").
type DeathNotifier interface {
	MarkMissing(ctx context.Context, sessionID string)
}

// Engine is the Automation Rule Engine.
type Engine struct {
	bus       terminalbus.Bus
	store     Store
	sessions  SessionLookup
	signals   SignalDepositor
	questions QuestionCreator
	notifier  Notifier
	deaths    DeathNotifier
	telemetry *telemetry.Telemetry
	log       *logging.Logger

	runtime *RuntimeState
}

// Deps bundles the Engine's collaborators.
type Deps struct {
	Bus       terminalbus.Bus
	Store     Store
	Sessions  SessionLookup
	Signals   SignalDepositor
	Questions QuestionCreator
	Notifier  Notifier
	Deaths    DeathNotifier
	Telemetry *telemetry.Telemetry
}

// New creates an Engine.
func New(d Deps, log *logging.Logger) *Engine {
	return &Engine{
		bus:       d.Bus,
		store:     d.Store,
		sessions:  d.Sessions,
		signals:   d.Signals,
		questions: d.Questions,
		notifier:  d.Notifier,
		deaths:    d.Deaths,
		telemetry: d.Telemetry,
		log:       log.WithFields(zap.String("component", "rules")),
		runtime:   NewRuntimeState(),
	}
}

// OnCaptureDelta implements capture.Subscriber: it runs one evaluation pass
// of the enabled, state-filtered rule set against the delta (spec §4.5).
func (e *Engine) OnCaptureDelta(ctx context.Context, d capture.Delta) {
	sessionID, delta := d.SessionID, d.Lines
	if len(delta) == 0 {
		return
	}
	state, displayName, agent, ok := e.sessions.SessionContext(sessionID)
	if !ok {
		return
	}

	ruleSnapshot, err := e.store.Snapshot(ctx)
	if err != nil {
		e.log.Warn("failed to snapshot rule store", zap.Error(err))
		return
	}

	candidates := filterRules(ruleSnapshot, state)
	sortRules(candidates)

	haystack := strings.Join(delta, "\n")
	now := time.Now()

	// Non-short-circuiting across rules (spec §4.5 step 4): every eligible
	// rule is evaluated against the same delta regardless of earlier fires.
	for _, rule := range candidates {
		m := matchRule(rule, haystack)
		if !m.matched {
			continue
		}
		if !e.runtime.Allow(rule.ID, sessionID, now, rule.CooldownSeconds, rule.MaxTriggersPerSession) {
			continue
		}
		e.runtime.RecordTrigger(rule.ID, sessionID, now)
		if e.telemetry != nil {
			e.telemetry.RuleTriggered(ctx, rule.ID, sessionID, len(rule.Actions))
		}

		vars := TemplateVars{Session: displayName, Agent: agent, Timestamp: now, Match: m}
		// Actions within a rule execute sequentially (delays compose); across
		// rules they may overlap in wall-clock time (spec §5 ordering
		// guarantees), hence the per-rule goroutine.
		go e.runActions(ctx, rule, sessionID, displayName, vars)
	}
}

func filterRules(all []v1.Rule, state v1.LifecycleState) []v1.Rule {
	var out []v1.Rule
	for _, r := range all {
		if !r.Enabled {
			continue
		}
		if len(r.SessionStateFilter) == 0 {
			out = append(out, r)
			continue
		}
		for _, s := range r.SessionStateFilter {
			if s == state {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func sortRules(rules []v1.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func (e *Engine) runActions(ctx context.Context, rule v1.Rule, sessionID, displayName string, vars TemplateVars) {
	for _, action := range rule.Actions {
		if action.DelayMS > 0 {
			timer := time.NewTimer(time.Duration(action.DelayMS) * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := e.execute(ctx, action, sessionID, displayName, vars); err != nil {
			// Any single action failure is logged and does not abort the
			// rest of the rule (spec §4.5 failure semantics).
			e.log.Warn("rule action failed",
				zap.String("rule_id", rule.ID), zap.String("session_id", sessionID),
				zap.String("action", string(action.Kind)), zap.Error(err))
			if e.telemetry != nil {
				e.telemetry.ActionFailed(ctx, rule.ID, sessionID, string(action.Kind), err)
			}
			if apperrors.IsKind(err, apperrors.KindStructural) && e.deaths != nil {
				e.deaths.MarkMissing(ctx, sessionID)
				return
			}
		}
	}
}

// execute dispatches one action per the spec §4.5 action-kind table.
func (e *Engine) execute(ctx context.Context, a v1.Action, sessionID, displayName string, vars TemplateVars) error {
	payload := Expand(a.Payload, vars)

	switch a.Kind {
	case v1.ActionSendText:
		return e.bus.SendText(ctx, displayName, payload)

	case v1.ActionSendKeys:
		return e.bus.SendKeys(ctx, displayName, strings.Fields(payload)...)

	case v1.ActionTmuxCommand:
		// Escape hatch: send the expanded command verbatim as literal text
		// followed by Enter (spec §4.5: "Passed verbatim to multiplexer").
		if err := e.bus.SendText(ctx, displayName, payload); err != nil {
			return err
		}
		return e.bus.SendKeys(ctx, displayName, "Enter")

	case v1.ActionSignal:
		kind, data, err := parseSignalPayload(payload)
		if err != nil {
			return apperrors.Validation("INVALID_SIGNAL_ACTION_PAYLOAD", err.Error())
		}
		if e.signals == nil {
			return nil
		}
		return e.signals.Deposit(kind, displayName, data)

	case v1.ActionNotifyOnly:
		if e.notifier != nil {
			e.notifier.Notify(ctx, sessionID, payload)
		}
		return nil

	case v1.ActionShowQuestionUI:
		if a.QuestionUI == nil || e.questions == nil {
			return nil
		}
		cfg := *a.QuestionUI
		cfg.Question = Expand(cfg.Question, vars)
		return e.questions.CreateSynthetic(ctx, sessionID, displayName, cfg)

	case v1.ActionRunCommand:
		if err := e.bus.SendText(ctx, displayName, payload); err != nil {
			return err
		}
		return e.bus.SendKeys(ctx, displayName, "Enter")

	default:
		return apperrors.Validation("UNKNOWN_ACTION_KIND", fmt.Sprintf("unknown action kind %q", a.Kind))
	}
}

// parseSignalPayload parses the `signal` action's "<kind> <json>" payload
// form (spec §4.5 action table).
func parseSignalPayload(payload string) (v1.SignalKind, map[string]interface{}, error) {
	parts := strings.SplitN(strings.TrimSpace(payload), " ", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("signal action payload must start with a signal kind")
	}
	kind := v1.SignalKind(parts[0])
	if len(parts) == 1 {
		return kind, nil, nil
	}
	data, err := decodeJSONObject(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("signal action payload JSON: %w", err)
	}
	return kind, data, nil
}
