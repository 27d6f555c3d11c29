package question

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

type fakeBus struct {
	mu       sync.Mutex
	sentText []string
	sentKeys [][]string
}

func (f *fakeBus) Create(ctx context.Context, displayName, workingDir string, w, h int, cmd string) error {
	return nil
}
func (f *fakeBus) Rename(ctx context.Context, oldName, newName string) error { return nil }
func (f *fakeBus) SendText(ctx context.Context, name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, text)
	return nil
}
func (f *fakeBus) SendKeys(ctx context.Context, name string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentKeys = append(f.sentKeys, keys)
	return nil
}
func (f *fakeBus) Capture(ctx context.Context, name string, maxLines int) (string, error) {
	return "", nil
}
func (f *fakeBus) Exists(ctx context.Context, name string) (bool, error) { return true, nil }
func (f *fakeBus) Kill(ctx context.Context, name string) error           { return nil }
func (f *fakeBus) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func newTestSurface(t *testing.T) (*Surface, *fakeBus, string) {
	t.Helper()
	dir := t.TempDir()
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	bus := &fakeBus{}
	return New(Config{TmpDir: dir}, bus, log), bus, dir
}

func TestPollHookFilesSurfacesChoiceQuestion(t *testing.T) {
	s, _, dir := newTestSurface(t)
	qf := questionFile{
		SessionID: "sess1", DisplayName: "jat-alpha", QuestionID: "q1",
		Kind: v1.QuestionChoice, Question: "Yes or no?",
		Options:   []v1.QuestionOption{{Label: "Yes", Value: "1"}, {Label: "No", Value: "2"}},
		CreatedAt: time.Now(),
	}
	raw, _ := json.Marshal(qf)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "claude-question-sess1.json"), raw, 0o644))

	s.PollHookFiles(context.Background(), "sess1", "jat-alpha")

	s.mu.Lock()
	_, ok := s.pending["sess1"]
	s.mu.Unlock()
	assert.True(t, ok)
}

func TestAnswerChoiceInjectsOptionNumberAndEnter(t *testing.T) {
	s, bus, _ := newTestSurface(t)
	s.register(context.Background(), "sess1", "jat-alpha", v1.Question{Kind: v1.QuestionChoice, ID: "q1"}, "")

	require.NoError(t, s.Answer(context.Background(), "sess1", Answer{Choice: 1}))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.sentText, 1)
	assert.Equal(t, "1", bus.sentText[0])
	require.Len(t, bus.sentKeys, 1)
	assert.Equal(t, []string{"Enter"}, bus.sentKeys[0])

	s.mu.Lock()
	_, stillPending := s.pending["sess1"]
	s.mu.Unlock()
	assert.False(t, stillPending)
}

func TestCancelInjectsEscape(t *testing.T) {
	s, bus, _ := newTestSurface(t)
	s.register(context.Background(), "sess1", "jat-alpha", v1.Question{Kind: v1.QuestionConfirm, ID: "q1"}, "")

	require.NoError(t, s.Cancel(context.Background(), "sess1"))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.sentKeys, 1)
	assert.Equal(t, []string{"Escape"}, bus.sentKeys[0])
}

func TestExtractFallbackDedupesSamePrompt(t *testing.T) {
	s, _, _ := newTestSurface(t)
	tail := []string{"❯ 1. Deploy now", "  2. Cancel"}

	s.ExtractFallback(context.Background(), "sess1", "jat-alpha", tail)
	s.mu.Lock()
	_, ok := s.pending["sess1"]
	s.mu.Unlock()
	require.True(t, ok)

	// A pending question already exists: a repeat scan must not re-register.
	before := s.pending["sess1"].q.ID
	s.ExtractFallback(context.Background(), "sess1", "jat-alpha", tail)
	s.mu.Lock()
	after := s.pending["sess1"].q.ID
	s.mu.Unlock()
	assert.Equal(t, before, after)
}
