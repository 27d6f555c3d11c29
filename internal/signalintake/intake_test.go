package signalintake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

type recordingSubscriber struct {
	signals []v1.Signal
}

func (r *recordingSubscriber) OnSignal(_ context.Context, s v1.Signal) {
	r.signals = append(r.signals, s)
}

func writeSignalFile(t *testing.T, dir, name string, env envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func newTestIntake(t *testing.T) (*Intake, *recordingSubscriber) {
	t.Helper()
	base := t.TempDir()
	cfg := DefaultConfig(base)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	in, err := New(cfg, log)
	require.NoError(t, err)
	sub := &recordingSubscriber{}
	in.Subscribe(sub)
	return in, sub
}

func TestProcessFileDeliversValidSignal(t *testing.T) {
	in, sub := newTestIntake(t)
	writeSignalFile(t, in.cfg.InboxDir, "a.json", envelope{
		Kind: v1.SignalWorking, Session: "jat-alpha", Timestamp: time.Now(),
	})

	in.scan(context.Background())

	require.Len(t, sub.signals, 1)
	assert.Equal(t, v1.SignalWorking, sub.signals[0].Kind)
	assert.Equal(t, "jat-alpha", sub.signals[0].Session)

	_, err := os.Stat(filepath.Join(in.cfg.InboxDir, "a.json"))
	assert.True(t, os.IsNotExist(err), "archived file should leave the inbox")
}

func TestProcessFileQuarantinesMalformedJSON(t *testing.T) {
	in, sub := newTestIntake(t)
	require.NoError(t, os.WriteFile(filepath.Join(in.cfg.InboxDir, "bad.json"), []byte("{not json"), 0o644))

	in.scan(context.Background())

	assert.Empty(t, sub.signals)
	_, err := os.Stat(filepath.Join(in.cfg.PoisonDir, "bad.json"))
	assert.NoError(t, err)
}

func TestProcessFileDropsUnknownKind(t *testing.T) {
	in, sub := newTestIntake(t)
	writeSignalFile(t, in.cfg.InboxDir, "u.json", envelope{
		Kind: "not_a_real_kind", Session: "jat-alpha", Timestamp: time.Now(),
	})

	in.scan(context.Background())

	assert.Empty(t, sub.signals)
	_, err := os.Stat(filepath.Join(in.cfg.InboxDir, "u.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	in, sub := newTestIntake(t)
	ts := time.Now()
	writeSignalFile(t, in.cfg.InboxDir, "a.json", envelope{Kind: v1.SignalIdle, Session: "jat-alpha", Timestamp: ts})
	in.scan(context.Background())
	require.Len(t, sub.signals, 1)

	// Simulate replay after a crash-before-ack: same (session, kind, timestamp).
	writeSignalFile(t, in.cfg.InboxDir, "a-replay.json", envelope{Kind: v1.SignalIdle, Session: "jat-alpha", Timestamp: ts})
	in.scan(context.Background())

	assert.Len(t, sub.signals, 1, "replayed signal with same dedup key must not re-fire subscribers")
}
