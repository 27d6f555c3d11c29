// Package question implements the Question Surface (spec §4.6): surfaces
// pending agent questions to the dashboard and injects the user's answer
// back into the session as keystrokes.
package question

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/terminalbus"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Listener is notified when a Question is born or answered/cancelled, for
// SSE publication (spec §4.6 "surfaced to the dashboard via an SSE channel").
type Listener interface {
	OnQuestionBorn(ctx context.Context, q v1.Question)
	OnQuestionResolved(ctx context.Context, sessionID, questionID string)
}

// Answer is the user's response to a pending Question.
type Answer struct {
	// Choice is the 1-based option index for kind=choice.
	Choice int
	// Confirmed selects y/n for kind=confirm.
	Confirmed bool
	// Text is the free-form reply for kind=input.
	Text string
}

const suppressionWindow = 2 * time.Second

// fallbackPrompt matches the classic `❯ 1. ... 2. ...` choice prompt (spec
// §4.6 "the Capture Engine's fallback extractor").
var fallbackPrompt = regexp.MustCompile(`❯\s*1\.\s*(.+)`)

type pending struct {
	q           v1.Question
	displayName string
	fingerprint string // hash-of-visible-pane dedup key (spec §9)
}

// Surface is the Question Surface.
type Surface struct {
	bus     terminalbus.Bus
	log     *logging.Logger
	tmpDir  string
	mu         sync.Mutex
	pending    map[string]*pending // sessionID -> pending question
	suppressed map[string]time.Time // sessionID -> re-poll suppression deadline

	listenersMu sync.Mutex
	listeners   []Listener
}

// Config controls where question files are deposited (spec §6.2).
type Config struct {
	TmpDir string
}

// New creates a Surface.
func New(cfg Config, bus terminalbus.Bus, log *logging.Logger) *Surface {
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	return &Surface{
		bus:        bus,
		log:        log.WithFields(zap.String("component", "question")),
		tmpDir:     cfg.TmpDir,
		pending:    make(map[string]*pending),
		suppressed: make(map[string]time.Time),
	}
}

// Subscribe registers a Listener for question lifecycle events.
func (s *Surface) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

type questionFile struct {
	SessionID      string           `json:"sessionId"`
	DisplayName    string           `json:"displayName"`
	QuestionID     string           `json:"questionId"`
	Kind           v1.QuestionKind  `json:"kind"`
	Question       string           `json:"question"`
	Options        []v1.QuestionOption `json:"options,omitempty"`
	TimeoutSeconds int              `json:"timeoutSeconds,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// PollHookFiles checks both well-known paths (spec §6.2) for sessionID and
// surfaces a new Question if one has been deposited and none is pending.
func (s *Surface) PollHookFiles(ctx context.Context, sessionID, displayName string) {
	s.mu.Lock()
	if until, ok := s.suppressed[sessionID]; ok && time.Now().Before(until) {
		s.mu.Unlock()
		return
	}
	if _, ok := s.pending[sessionID]; ok {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	for _, path := range s.hookPaths(sessionID, displayName) {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var qf questionFile
		if err := json.Unmarshal(raw, &qf); err != nil {
			s.log.Warn("malformed question file", zap.String("path", path), zap.Error(err))
			continue
		}
		q := v1.Question{
			ID: qf.QuestionID, SessionID: sessionID, DisplayName: displayName,
			Kind: qf.Kind, Text: qf.Question, Options: qf.Options,
			TimeoutSeconds: qf.TimeoutSeconds, CreatedAt: qf.CreatedAt,
		}
		s.register(ctx, sessionID, displayName, q, "")
		return
	}
}

func (s *Surface) hookPaths(sessionID, displayName string) []string {
	return []string{
		filepath.Join(s.tmpDir, fmt.Sprintf("claude-question-%s.json", sessionID)),
		filepath.Join(s.tmpDir, fmt.Sprintf("claude-question-tmux-%s.json", displayName)),
	}
}

// CreateSynthetic implements rules.QuestionCreator for the show_question_ui
// action kind (spec §4.6 "A show_question_ui action creates one
// synthetically").
func (s *Surface) CreateSynthetic(ctx context.Context, sessionID, displayName string, cfg v1.QuestionUIConfig) error {
	s.mu.Lock()
	if _, exists := s.pending[sessionID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	q := v1.Question{
		ID: fmt.Sprintf("%s-%d", sessionID, time.Now().UnixNano()),
		SessionID: sessionID, DisplayName: displayName,
		Kind: cfg.Kind, Text: cfg.Question, Options: cfg.Options,
		TimeoutSeconds: cfg.TimeoutSeconds, CreatedAt: time.Now(),
	}
	s.register(ctx, sessionID, displayName, q, "")
	return nil
}

// ExtractFallback implements the Capture Engine's fallback extractor (spec
// §4.6, §9): gated by the absence of a pending question, deduped by a
// fingerprint of the visible pane so the same prompt never re-fires.
func (s *Surface) ExtractFallback(ctx context.Context, sessionID, displayName string, tail []string) {
	s.mu.Lock()
	if _, exists := s.pending[sessionID]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	joined := joinLines(tail)
	m := fallbackPrompt.FindStringSubmatch(joined)
	if m == nil {
		return
	}
	fp := fingerprint(joined)

	s.mu.Lock()
	if p, ok := s.pending[sessionID]; ok && p.fingerprint == fp {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	q := v1.Question{
		ID: fmt.Sprintf("%s-fallback-%d", sessionID, time.Now().UnixNano()),
		SessionID: sessionID, DisplayName: displayName,
		Kind: v1.QuestionChoice, Text: m[1], CreatedAt: time.Now(),
	}
	s.register(ctx, sessionID, displayName, q, fp)
}

func (s *Surface) register(ctx context.Context, sessionID, displayName string, q v1.Question, fingerprint string) {
	s.mu.Lock()
	s.pending[sessionID] = &pending{q: q, displayName: displayName, fingerprint: fingerprint}
	s.mu.Unlock()

	s.listenersMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l.OnQuestionBorn(ctx, q)
	}
}

// Answer implements spec §4.6's answer path: inject the resolved keystrokes,
// delete the on-disk record, suppress re-polling for ≥2s.
func (s *Surface) Answer(ctx context.Context, sessionID string, a Answer) error {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no pending question for session %q", sessionID)
	}
	s.mu.Unlock()

	var text string
	switch p.q.Kind {
	case v1.QuestionChoice:
		text = fmt.Sprintf("%d", a.Choice)
	case v1.QuestionConfirm:
		if a.Confirmed {
			text = "y"
		} else {
			text = "n"
		}
	case v1.QuestionInput:
		text = a.Text
	}

	if text != "" {
		if err := s.bus.SendText(ctx, p.displayName, text); err != nil {
			return err
		}
	}
	if err := s.bus.SendKeys(ctx, p.displayName, "Enter"); err != nil {
		return err
	}

	s.resolve(ctx, sessionID, p)
	return nil
}

// Cancel implements spec §4.6 cancellation: inject Escape, delete the record.
func (s *Surface) Cancel(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no pending question for session %q", sessionID)
	}
	s.mu.Unlock()

	if err := s.bus.SendKeys(ctx, p.displayName, "Escape"); err != nil {
		return err
	}
	s.resolve(ctx, sessionID, p)
	return nil
}

func (s *Surface) resolve(ctx context.Context, sessionID string, p *pending) {
	for _, path := range s.hookPaths(sessionID, p.displayName) {
		_ = os.Remove(path)
	}

	s.mu.Lock()
	s.suppressed[sessionID] = time.Now().Add(suppressionWindow)
	delete(s.pending, sessionID)
	s.mu.Unlock()

	s.listenersMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l.OnQuestionResolved(ctx, sessionID, p.q.ID)
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func fingerprint(s string) string {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%x", h)
}
