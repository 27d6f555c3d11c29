// Package identity watches the agent identity file an agent writes on
// startup (spec §6.3: "<project>/.claude/sessions/agent-<sessionId>.txt —
// a single line containing the chosen agent name"), triggering the
// Orchestrator's rename-on-register transition (spec §4.7 "The Orchestrator
// observes this file and issues rename(old, "jat-"+name)").
package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

// Watcher watches one or more project `.claude/sessions` directories for
// the agent identity file of a pending session.
type Watcher struct {
	log *logging.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	watched map[string]struct{} // watched directories
	waiting map[string]func(agentName string)
	cancel  context.CancelFunc
}

// New creates a Watcher. Call Start before WatchSession.
func New(log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		log:     log.WithFields(zap.String("component", "identity")),
		fsw:     fsw,
		watched: make(map[string]struct{}),
		waiting: make(map[string]func(string)),
	}, nil
}

// Start begins the fsnotify dispatch loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(ctx)
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fsw.Close()
}

// WatchSession arranges for onNamed to be invoked exactly once, with the
// single line written to <projectDir>/.claude/sessions/agent-<sessionID>.txt,
// as soon as that file appears. A periodic backstop scan is unnecessary here
// because the Orchestrator's pending→dead startup timeout already bounds
// how long this wait can matter (spec §4.7 "A startup timeout... bounds how
// long state remains pending").
func (w *Watcher) WatchSession(sessionID, projectDir string, onNamed func(agentName string)) {
	dir := filepath.Join(projectDir, ".claude", "sessions")
	_ = os.MkdirAll(dir, 0o755)

	w.mu.Lock()
	if _, ok := w.watched[dir]; !ok {
		if err := w.fsw.Add(dir); err != nil {
			w.log.Warn("failed to watch session identity directory", zap.String("dir", dir), zap.Error(err))
		}
		w.watched[dir] = struct{}{}
	}
	w.waiting[sessionID] = onNamed
	w.mu.Unlock()

	// The file may already exist from a prior crash-restart race.
	w.checkExisting(dir, sessionID)
}

// Forget cancels a pending wait, e.g. on session kill before registration.
func (w *Watcher) Forget(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiting, sessionID)
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleFile(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug("identity watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) checkExisting(dir, sessionID string) {
	path := filepath.Join(dir, fmt.Sprintf("agent-%s.txt", sessionID))
	w.handleFile(path)
}

func (w *Watcher) handleFile(path string) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "agent-") || !strings.HasSuffix(base, ".txt") {
		return
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(base, "agent-"), ".txt")

	w.mu.Lock()
	_, ok := w.waiting[sessionID]
	w.mu.Unlock()
	if !ok {
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		w.log.Debug("failed to read agent identity file", zap.String("path", path), zap.Error(err))
		return
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return // not written yet; the waiter stays for the next Write event
	}

	w.mu.Lock()
	cb, ok := w.waiting[sessionID]
	if ok {
		delete(w.waiting, sessionID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	cb(name)
}
