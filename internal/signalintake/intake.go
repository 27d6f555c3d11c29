// Package signalintake implements Signal Intake (spec §4.2): a filesystem
// inbox watched by fsnotify with a periodic backstop scan, delivering
// structured lifecycle signals deposited by in-terminal hooks to subscribers
// at-least-once, archiving or quarantining each file once all subscribers
// have acknowledged it.
package signalintake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Subscriber consumes a validated Signal. It must be idempotent on
// (session, kind, timestamp): Signal Intake delivers at-least-once (spec
// §4.2 step 3, §8 "Signals are idempotent...").
type Subscriber interface {
	OnSignal(ctx context.Context, s v1.Signal)
}

// Config controls the watched inbox and backstop cadence.
type Config struct {
	InboxDir       string
	PoisonDir      string
	ArchiveDir     string
	BackstopPeriod time.Duration // fallback periodic scan (spec §9 design note)
}

// DefaultConfig fills in the spec's suggested 1s backstop scan.
func DefaultConfig(baseDir string) Config {
	return Config{
		InboxDir:       filepath.Join(baseDir, "inbox"),
		PoisonDir:      filepath.Join(baseDir, "poison"),
		ArchiveDir:     filepath.Join(baseDir, "archive"),
		BackstopPeriod: time.Second,
	}
}

// Intake is the Signal Intake component.
type Intake struct {
	cfg Config
	log *logging.Logger

	mu   sync.Mutex
	subs []Subscriber

	seenMu sync.Mutex
	seen   map[string]struct{} // dedup key: session|kind|timestamp

	watcher *fsnotify.Watcher
	cron    *cron.Cron
	cancel  context.CancelFunc
}

type envelope struct {
	Kind      v1.SignalKind          `json:"kind"`
	Session   string                 `json:"session"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

var validKinds = map[v1.SignalKind]struct{}{
	v1.SignalStarting:   {},
	v1.SignalWorking:    {},
	v1.SignalIdle:       {},
	v1.SignalNeedsInput: {},
	v1.SignalReview:     {},
	v1.SignalCompleting: {},
	v1.SignalCompleted:  {},
	v1.SignalCompacting: {},
}

// New creates an Intake over cfg's directories, creating them if absent.
func New(cfg Config, log *logging.Logger) (*Intake, error) {
	for _, d := range []string{cfg.InboxDir, cfg.PoisonDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return &Intake{
		cfg:  cfg,
		log:  log.WithFields(zap.String("component", "signalintake")),
		seen: make(map[string]struct{}),
	}, nil
}

// Subscribe registers a subscriber. Must be called before Start.
func (in *Intake) Subscribe(s Subscriber) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.subs = append(in.subs, s)
}

// Start begins watching the inbox and the backstop scan loop.
func (in *Intake) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel

	// Backstop scan catches files dropped on filesystems (or at times) the
	// watcher misses (spec §9 "the scan backstop is required for
	// correctness"), and replays anything left from a crash before the
	// previous run's acknowledge (spec §4.2 step 3).
	in.scan(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		in.log.Warn("fsnotify unavailable, relying on backstop scan only", zap.Error(err))
	} else {
		in.watcher = watcher
		if err := watcher.Add(in.cfg.InboxDir); err != nil {
			in.log.Warn("failed to watch inbox directory", zap.Error(err))
		}
		go in.watchLoop(ctx)
	}

	c := cron.New(cron.WithSeconds())
	spec := "@every " + in.cfg.BackstopPeriod.String()
	if _, err := c.AddFunc(spec, func() { in.scan(ctx) }); err != nil {
		return err
	}
	c.Start()
	in.cron = c

	return nil
}

// Stop halts the watcher and backstop scan.
func (in *Intake) Stop() {
	if in.cancel != nil {
		in.cancel()
	}
	if in.watcher != nil {
		in.watcher.Close()
	}
	if in.cron != nil {
		in.cron.Stop()
	}
}

func (in *Intake) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			in.processFile(ctx, event.Name)
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.log.Debug("inbox watcher error", zap.Error(err))
		}
	}
}

func (in *Intake) scan(ctx context.Context) {
	entries, err := os.ReadDir(in.cfg.InboxDir)
	if err != nil {
		in.log.Warn("inbox scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		in.processFile(ctx, filepath.Join(in.cfg.InboxDir, e.Name()))
	}
}

// processFile implements spec §4.2 steps 1-3 for a single inbox file.
func (in *Intake) processFile(ctx context.Context, path string) {
	// Writers deposit through a dot-prefixed temp name renamed into place;
	// the temp file itself is never a signal.
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.log.Debug("failed to read inbox file", zap.String("path", path), zap.Error(err))
		}
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		in.quarantine(path, raw)
		return
	}
	if _, ok := validKinds[env.Kind]; !ok {
		in.log.Warn("dropping signal with unknown kind", zap.String("kind", string(env.Kind)), zap.String("path", path))
		in.removeFile(path)
		return
	}
	if env.Session == "" || env.Timestamp.IsZero() {
		in.quarantine(path, raw)
		return
	}

	sig := v1.Signal{Kind: env.Kind, Session: env.Session, Timestamp: env.Timestamp, Payload: env.Payload}

	if !in.markSeen(dedupKey(sig)) {
		// Already delivered this exact (session, kind, timestamp); still
		// archive to make processing idempotent on crash-replay.
		in.archive(path)
		return
	}

	in.mu.Lock()
	subs := append([]Subscriber(nil), in.subs...)
	in.mu.Unlock()

	for _, s := range subs {
		s.OnSignal(ctx, sig)
	}

	in.archive(path)
}

func dedupKey(s v1.Signal) string {
	return s.Session + "|" + string(s.Kind) + "|" + s.Timestamp.Format(time.RFC3339Nano)
}

func (in *Intake) markSeen(key string) bool {
	in.seenMu.Lock()
	defer in.seenMu.Unlock()
	if _, ok := in.seen[key]; ok {
		return false
	}
	in.seen[key] = struct{}{}
	return true
}

func (in *Intake) quarantine(path string, _ []byte) {
	dest := filepath.Join(in.cfg.PoisonDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		in.log.Warn("failed to quarantine malformed signal file", zap.String("path", path), zap.Error(err))
	}
}

func (in *Intake) archive(path string) {
	dest := filepath.Join(in.cfg.ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		in.log.Debug("failed to archive signal file", zap.String("path", path), zap.Error(err))
	}
}

func (in *Intake) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.log.Debug("failed to remove signal file", zap.String("path", path), zap.Error(err))
	}
}
