// Package v1 holds the core domain entities (spec §3) shared across the
// orchestrator's internal packages, mirroring the teacher's pkg/api/v1
// cross-cutting type package.
package v1

import "time"

// LifecycleState is a session's derived state (spec §3, §4.7 state diagram).
type LifecycleState string

const (
	StatePending        LifecycleState = "pending"
	StateNamed          LifecycleState = "named"
	StateWorking        LifecycleState = "working"
	StateIdle           LifecycleState = "idle"
	StateReadyForReview LifecycleState = "ready-for-review"
	StateNeedsInput     LifecycleState = "needs-input"
	StateCompleting     LifecycleState = "completing"
	StateCompacting     LifecycleState = "compacting"
	StateStarting       LifecycleState = "starting"
	StateCompleted      LifecycleState = "completed"
	StateKilled         LifecycleState = "killed"
	StateDead           LifecycleState = "dead"
)

// SignalKind enumerates the structured lifecycle events emitted by
// in-terminal hooks (spec §3, §6.1).
type SignalKind string

const (
	SignalStarting   SignalKind = "starting"
	SignalWorking    SignalKind = "working"
	SignalIdle       SignalKind = "idle"
	SignalNeedsInput SignalKind = "needs_input"
	SignalReview     SignalKind = "review"
	SignalCompleting SignalKind = "completing"
	SignalCompleted  SignalKind = "completed"
	SignalCompacting SignalKind = "compacting"
)

// Signal is a structured lifecycle event deposited by a hook (spec §3, §6.1).
type Signal struct {
	Kind      SignalKind             `json:"kind"`
	Session   string                 `json:"session"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EpicContext tracks an ordered chain of tasks spawned one-at-a-time through
// a single chain of agents (spec §3, GLOSSARY "Epic").
type EpicContext struct {
	ChildTaskIDs  []string `json:"childTaskIds"`
	CurrentIndex  int      `json:"currentIndex"`
	KillOnComplete bool    `json:"killOnComplete"`
}

// NextTaskID returns the next task in the epic, if any remains.
func (e *EpicContext) NextTaskID() (string, bool) {
	if e == nil {
		return "", false
	}
	next := e.CurrentIndex + 1
	if next >= len(e.ChildTaskIDs) {
		return "", false
	}
	return e.ChildTaskIDs[next], true
}

// Advance moves the epic to its next task, returning a copy with the
// advanced index (epics are treated as immutable value objects so that
// handoff between sessions never races on a shared pointer).
func (e *EpicContext) Advance() *EpicContext {
	if e == nil {
		return nil
	}
	cp := *e
	cp.CurrentIndex++
	return &cp
}

// Session is one supervised tmux session hosting one agent (spec §3).
type Session struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"displayName"`
	TaskID        string         `json:"taskId,omitempty"`
	ProjectKey    string         `json:"projectKey"`
	SpawnTime     time.Time      `json:"spawnTime"`
	LastActivity  time.Time      `json:"lastActivity"`
	State         LifecycleState `json:"state"`
	Attached      bool           `json:"attached"`
	Epic          *EpicContext   `json:"epic,omitempty"`
	WorkingDir    string         `json:"workingDir"`
}

// PatternMode selects how a Rule pattern is matched (spec §3).
type PatternMode string

const (
	PatternRegex   PatternMode = "regex"
	PatternLiteral PatternMode = "literal"
)

// Pattern is one entry in a Rule's ordered pattern list (spec §3).
type Pattern struct {
	Mode           PatternMode `json:"mode"`
	CaseSensitive  bool        `json:"caseSensitive"`
	Text           string      `json:"text"`
}

// ActionKind enumerates the automation actions a Rule may fire (spec §4.5).
type ActionKind string

const (
	ActionSendText       ActionKind = "send_text"
	ActionSendKeys       ActionKind = "send_keys"
	ActionTmuxCommand    ActionKind = "tmux_command"
	ActionSignal         ActionKind = "signal"
	ActionNotifyOnly     ActionKind = "notify_only"
	ActionShowQuestionUI ActionKind = "show_question_ui"
	ActionRunCommand     ActionKind = "run_command"
)

// QuestionUIConfig configures a show_question_ui action (spec §4.5, §3).
type QuestionUIConfig struct {
	Kind           QuestionKind      `json:"kind"`
	Question       string            `json:"question"`
	Options        []QuestionOption  `json:"options,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
}

// Action is one entry in a Rule's ordered action list (spec §3, §4.5).
type Action struct {
	Kind       ActionKind        `json:"kind"`
	Payload    string            `json:"payload"`
	DelayMS    int               `json:"delayMs"`
	QuestionUI *QuestionUIConfig `json:"questionUi,omitempty"`
}

// RuleCategory classifies a Rule's intent (spec §3).
type RuleCategory string

const (
	CategoryRecovery     RuleCategory = "recovery"
	CategoryPrompt       RuleCategory = "prompt"
	CategoryStall        RuleCategory = "stall"
	CategoryNotification RuleCategory = "notification"
	CategoryCustom       RuleCategory = "custom"
)

// Rule is a (patterns → actions) automation unit (spec §3, §4.5).
type Rule struct {
	ID                  string           `json:"id" db:"id"`
	Name                string           `json:"name" db:"name"`
	Category            RuleCategory     `json:"category" db:"category"`
	Enabled             bool             `json:"enabled" db:"enabled"`
	Priority            int              `json:"priority" db:"priority"`
	Patterns            []Pattern        `json:"patterns" db:"-"`
	Actions             []Action         `json:"actions" db:"-"`
	CooldownSeconds     int              `json:"cooldownSeconds" db:"cooldown_seconds"`
	MaxTriggersPerSession int            `json:"maxTriggersPerSession" db:"max_triggers_per_session"`
	SessionStateFilter  []LifecycleState `json:"sessionStateFilter,omitempty" db:"-"`
	PresetID            string           `json:"presetId,omitempty" db:"preset_id"`
	IsPreset            bool             `json:"isPreset" db:"is_preset"`
	ValidationError     string           `json:"validationError,omitempty" db:"validation_error"`
}

// QuestionKind enumerates how a Question's answer should be injected
// (spec §3, §4.6).
type QuestionKind string

const (
	QuestionChoice  QuestionKind = "choice"
	QuestionConfirm QuestionKind = "confirm"
	QuestionInput   QuestionKind = "input"
)

// QuestionOption is one choice in a `choice`-kind Question (spec §3, §6.2).
type QuestionOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Question is a pending agent→user question (spec §3, §4.6, §6.2).
type Question struct {
	ID               string           `json:"questionId"`
	SessionID        string           `json:"sessionId"`
	DisplayName      string           `json:"displayName"`
	Kind             QuestionKind     `json:"kind"`
	Text             string           `json:"question"`
	Options          []QuestionOption `json:"options,omitempty"`
	TimeoutSeconds   int              `json:"timeoutSeconds,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ReviewOutcome is the autopilot's disposition for a `review` signal
// (spec §4.7, GLOSSARY "Autopilot").
type ReviewOutcome string

const (
	ReviewAuto   ReviewOutcome = "auto"
	ReviewManual ReviewOutcome = "review"
)

// ReviewPolicyRule is one row of the ReviewPolicy table (spec §3, §4.7).
type ReviewPolicyRule struct {
	TaskTypePattern   string        `json:"taskTypePattern"`
	PriorityPredicate string        `json:"priorityPredicate"` // "*" matches any priority
	Outcome           ReviewOutcome `json:"outcome"`
}
