// Package orchestrator owns the per-session lifecycle state machine (spec
// §4.7): spawning, rename-on-register, signal/classifier-driven transitions,
// the 5s watchdog, and review autopilot. All mutations to the session table
// are routed through a single actor goroutine and message-passing commands
// (spec §9 "Global mutable state... -> supervisor with message passing");
// readers receive immutable snapshots.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/classifier"
	"github.com/jpatrickfarrell/jat-sub014/internal/identity"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/question"
	"github.com/jpatrickfarrell/jat-sub014/internal/telemetry"
	"github.com/jpatrickfarrell/jat-sub014/internal/terminalbus"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Config holds the Orchestrator's tunables (spec §6.5 defaults).
type Config struct {
	MaxSessions            int
	AgentStagger           time.Duration
	ClaudeStartupTimeout   time.Duration
	ServerSessionPrefix    string
	SessionNamePrefix      string
	ReviewPolicy           []v1.ReviewPolicyRule
}

// sessionRecord is the supervisor's private per-session state; only the
// actor goroutine touches it directly.
type sessionRecord struct {
	session    v1.Session
	lastSignal *v1.Signal
	killOnCompletion bool
	spawnDeadline    time.Time
}

// Supervisor is the Orchestrator.
type Supervisor struct {
	bus        terminalbus.Bus
	captureEng *capture.Engine
	classif    *classifier.Classifier
	questions  *question.Surface
	idWatcher  *identity.Watcher
	tasks      TaskStore
	projects   ProjectResolver
	mailbus    MailBus
	telemetry  *telemetry.Telemetry
	log        *logging.Logger
	cfg        Config

	cmds chan func(ctx context.Context)

	mu        sync.Mutex // guards listeners only; session table lives on the actor goroutine
	listeners []StateListener

	sessions map[string]*sessionRecord // actor-goroutine-only
	byName   map[string]string         // display-name -> session id, actor-goroutine-only
	reviewDecisionPending map[string]bool // session-id -> awaiting a Complete/Complete&Kill answer

	cronSched *cron.Cron
	cancel    context.CancelFunc
}

// Deps bundles the Supervisor's collaborators.
type Deps struct {
	Bus        terminalbus.Bus
	CaptureEng *capture.Engine
	Classifier *classifier.Classifier
	Questions  *question.Surface
	Identity   *identity.Watcher
	Tasks      TaskStore
	Projects   ProjectResolver
	MailBus    MailBus
	Telemetry  *telemetry.Telemetry
}

// New creates a Supervisor.
func New(d Deps, cfg Config, log *logging.Logger) *Supervisor {
	return &Supervisor{
		bus: d.Bus, captureEng: d.CaptureEng, classif: d.Classifier, questions: d.Questions,
		idWatcher: d.Identity, tasks: d.Tasks, projects: d.Projects, mailbus: d.MailBus, telemetry: d.Telemetry,
		log:      log.WithFields(zap.String("component", "orchestrator")),
		cfg:      cfg,
		cmds:     make(chan func(ctx context.Context), 64),
		sessions: make(map[string]*sessionRecord),
		byName:   make(map[string]string),
		reviewDecisionPending: make(map[string]bool),
	}
}

// Subscribe registers a StateListener.
func (s *Supervisor) Subscribe(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Supervisor) notifyListeners(fn func(StateListener)) {
	s.mu.Lock()
	ls := append([]StateListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

// Start begins the actor loop and the 5s watchdog (spec §4.7 "a watchdog
// that pings the Terminal Bus every 5s and marks a session killed on
// disappearance").
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.runLoop(ctx)

	c := cron.New()
	if _, err := c.AddFunc("@every 5s", func() { s.enqueue(func(ctx context.Context) { s.watchdogTick(ctx) }) }); err == nil {
		c.Start()
		s.cronSched = c
	}
}

// Stop halts the actor loop and watchdog.
func (s *Supervisor) Stop() {
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Supervisor) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd(ctx)
		}
	}
}

func (s *Supervisor) enqueue(fn func(ctx context.Context)) {
	s.cmds <- fn
}

// call runs fn on the actor goroutine and blocks until it completes,
// returning whatever err fn reports via the closure.
func (s *Supervisor) call(fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	s.enqueue(func(ctx context.Context) { errCh <- fn(ctx) })
	return <-errCh
}

// Snapshot returns an immutable copy of every live session (spec §4.7 HTTP
// surface "A snapshot of all live sessions").
func (s *Supervisor) Snapshot() []v1.Session {
	resultCh := make(chan []v1.Session, 1)
	s.enqueue(func(ctx context.Context) {
		out := make([]v1.Session, 0, len(s.sessions))
		for _, r := range s.sessions {
			out = append(out, r.session)
		}
		resultCh <- out
	})
	return <-resultCh
}

// Get returns one session's immutable snapshot.
func (s *Supervisor) Get(sessionID string) (v1.Session, bool) {
	type result struct {
		sess v1.Session
		ok   bool
	}
	resultCh := make(chan result, 1)
	s.enqueue(func(ctx context.Context) {
		r, ok := s.sessions[sessionID]
		if !ok {
			resultCh <- result{}
			return
		}
		resultCh <- result{sess: r.session, ok: true}
	})
	res := <-resultCh
	return res.sess, res.ok
}

// SessionContext implements rules.SessionLookup.
func (s *Supervisor) SessionContext(sessionID string) (v1.LifecycleState, string, string, bool) {
	sess, ok := s.Get(sessionID)
	if !ok {
		return "", "", "", false
	}
	return sess.State, sess.DisplayName, "claude", true
}

// ResolveProject exposes project resolution so spawn callers (HTTP layer)
// can validate a projectKey before issuing Spawn.
func (s *Supervisor) ResolveProject(projectKey string) (Project, error) {
	return s.projects.ResolveProject(projectKey)
}

// DetectedPort returns the Capture Engine's detected localhost port for a
// server-* session, or 0 if none has been seen yet (spec §4.3 "server-
// session port detector").
func (s *Supervisor) DetectedPort(sessionID string) int {
	if s.captureEng == nil {
		return 0
	}
	return s.captureEng.DetectedPort(sessionID)
}

func (s *Supervisor) setState(ctx context.Context, r *sessionRecord, newState v1.LifecycleState, cause string) {
	old := r.session.State
	if old == newState {
		return // spec §4.4 step 3 / §8 invariant 1: suppress unchanged state
	}
	r.session.State = newState
	r.session.LastActivity = time.Now()
	if s.telemetry != nil {
		s.telemetry.StateTransition(ctx, r.session.ID, string(old), string(newState), cause)
	}
	s.notifyListeners(func(l StateListener) { l.OnStateChanged(ctx, r.session.ID, old, newState) })
}

func fmtPendingName() string {
	return fmt.Sprintf("jat-pending-%d", time.Now().UnixNano())
}
