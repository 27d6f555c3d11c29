package capture

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/terminalbus"
)

// Delta is published to subscribers (Classifier, Rule Engine) on every
// capture cycle that produces new lines (spec §4.3).
type Delta struct {
	SessionID string
	Lines     []string // new lines since the previous capture
	Snapshot  []string // full current ring snapshot, for classifier fallback scans
}

// Subscriber receives capture deltas.
type Subscriber interface {
	OnCaptureDelta(ctx context.Context, d Delta)
}

// Config controls capture cadence and buffer sizing (spec §4.3).
type Config struct {
	FocusedCadence    time.Duration
	BackgroundCadence time.Duration
	WindowLines       int // W, typically ~500
	RingLines         int
	Cols, Rows        int
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		FocusedCadence:    500 * time.Millisecond,
		BackgroundCadence: 2 * time.Second,
		WindowLines:       500,
		RingLines:         2000,
		Cols:              80,
		Rows:              40,
	}
}

// session tracks per-session capture state.
type session struct {
	ring    *Ring
	cancel  context.CancelFunc
	focused bool
}

// Engine is the Capture Engine (spec §4.3).
type Engine struct {
	bus    terminalbus.Bus
	log    *logging.Logger
	cfg    Config
	subs   []Subscriber

	mu       sync.Mutex
	sessions map[string]*session

	portMu     sync.Mutex
	detectedPorts map[string]int // server-* session name -> detected port
}

var portPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1)(?::(\d+))?`)

// New creates a Capture Engine talking to bus.
func New(bus terminalbus.Bus, log *logging.Logger, cfg Config) *Engine {
	return &Engine{
		bus:           bus,
		log:           log.WithFields(zap.String("component", "capture")),
		cfg:           cfg,
		sessions:      make(map[string]*session),
		detectedPorts: make(map[string]int),
	}
}

// Subscribe registers a subscriber for capture deltas. Subscribers must be
// registered before sessions are started (spec §9 "explicit channels").
func (e *Engine) Subscribe(s Subscriber) {
	e.subs = append(e.subs, s)
}

// StartSession begins the capture ticker for a session. focused selects the
// cadence (spec §4.3, §9 Open Question: per-session focused/background).
func (e *Engine) StartSession(ctx context.Context, sessionID, tmuxName string, focused bool) {
	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		return
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{ring: NewRing(e.cfg.RingLines), cancel: cancel, focused: focused}
	e.sessions[sessionID] = s
	e.mu.Unlock()

	go e.tickerLoop(sessCtx, sessionID, tmuxName, s)
}

// SetFocused updates a session's capture cadence tier.
func (e *Engine) SetFocused(sessionID string, focused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		s.focused = focused
	}
}

// StopSession cancels the capture ticker and frees the CaptureBuffer for a
// killed session (spec §5 "A session-kill request cancels all in-flight
// per-session tasks... the session's CaptureBuffer is freed").
func (e *Engine) StopSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		s.cancel()
		delete(e.sessions, sessionID)
	}
	e.portMu.Lock()
	delete(e.detectedPorts, sessionID)
	e.portMu.Unlock()
}

// Ring returns the live ring buffer for a session, or nil if unknown.
func (e *Engine) Ring(sessionID string) *Ring {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		return s.ring
	}
	return nil
}

// DetectedPort returns the port detected for a server-* session, or 0.
func (e *Engine) DetectedPort(sessionID string) int {
	e.portMu.Lock()
	defer e.portMu.Unlock()
	return e.detectedPorts[sessionID]
}

func (e *Engine) tickerLoop(ctx context.Context, sessionID, tmuxName string, s *session) {
	for {
		cadence := e.cfg.BackgroundCadence
		if s.focused {
			cadence = e.cfg.FocusedCadence
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cadence):
			e.captureOnce(ctx, sessionID, tmuxName, s)
		}
	}
}

func (e *Engine) captureOnce(ctx context.Context, sessionID, tmuxName string, s *session) {
	raw, err := e.bus.Capture(ctx, tmuxName, e.cfg.WindowLines)
	if err != nil {
		e.log.Warn("capture failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	lines := StripANSI([]byte(raw), e.cfg.Cols, e.cfg.Rows)
	delta := s.ring.Update(lines)
	if len(delta) == 0 {
		return
	}

	if isServerSession(tmuxName) {
		e.detectPort(sessionID, delta)
	}

	d := Delta{SessionID: sessionID, Lines: delta, Snapshot: s.ring.Lines()}
	for _, sub := range e.subs {
		sub.OnCaptureDelta(ctx, d)
	}
}

func isServerSession(tmuxName string) bool {
	return len(tmuxName) > 7 && tmuxName[:7] == "server-"
}

// detectPort implements the server-session port detector (spec §4.3): scans
// recent output of server-* sessions for localhost-URL patterns.
func (e *Engine) detectPort(sessionID string, lines []string) {
	for _, line := range lines {
		m := portPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port := 80
		if m[1] != "" {
			if parsed, err := strconv.Atoi(m[1]); err == nil {
				port = parsed
			}
		}
		e.portMu.Lock()
		e.detectedPorts[sessionID] = port
		e.portMu.Unlock()
		return
	}
}
