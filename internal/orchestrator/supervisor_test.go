package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/classifier"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/question"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

type fakeBus struct {
	mu       sync.Mutex
	created  []string
	renamed  [][2]string
	killed   []string
	sentText []string
	exists   map[string]bool
}

func newFakeBus() *fakeBus { return &fakeBus{exists: make(map[string]bool)} }

func (f *fakeBus) Create(ctx context.Context, displayName, workingDir string, w, h int, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, displayName)
	f.exists[displayName] = true
	return nil
}
func (f *fakeBus) Rename(ctx context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, [2]string{oldName, newName})
	delete(f.exists, oldName)
	f.exists[newName] = true
	return nil
}
func (f *fakeBus) SendText(ctx context.Context, name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, text)
	return nil
}
func (f *fakeBus) SendKeys(ctx context.Context, name string, keys ...string) error { return nil }
func (f *fakeBus) Capture(ctx context.Context, name string, maxLines int) (string, error) {
	return "", nil
}
func (f *fakeBus) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[name], nil
}
func (f *fakeBus) Kill(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, name)
	delete(f.exists, name)
	return nil
}
func (f *fakeBus) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

type fakeProjects struct{}

func (fakeProjects) ResolveProject(key string) (Project, error) {
	return Project{WorkingDir: "/tmp/proj-" + key, Width: 80, Height: 40}, nil
}

type fakeTasks struct {
	info TaskInfo

	mu        sync.Mutex
	completed []string
}

func (f *fakeTasks) TaskInfo(ctx context.Context, taskID string) (TaskInfo, error) {
	return f.info, nil
}

func (f *fakeTasks) MarkComplete(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskID)
	return nil
}

func newTestSupervisor(t *testing.T, cfg Config, bus *fakeBus, tasks TaskStore) *Supervisor {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	capEng := capture.New(bus, log, capture.DefaultConfig())
	qs := question.New(question.Config{TmpDir: t.TempDir()}, bus, log)
	cl := classifier.New(classifier.DefaultConfig())

	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 8
	}
	if cfg.AgentStagger == 0 {
		cfg.AgentStagger = 10 * time.Millisecond
	}
	if cfg.ClaudeStartupTimeout == 0 {
		cfg.ClaudeStartupTimeout = time.Hour
	}

	sup := New(Deps{
		Bus: bus, CaptureEng: capEng, Classifier: cl, Questions: qs,
		Tasks: tasks, Projects: fakeProjects{},
	}, cfg, log)

	ctx := context.Background()
	sup.Start(ctx)
	t.Cleanup(sup.Stop)
	return sup
}

func TestSpawnCreatesPendingSession(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)
	assert.Equal(t, v1.StatePending, sess.State)

	snap, ok := sup.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "t1", snap.TaskID)
}

func TestSpawnEnforcesMaxSessions(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{MaxSessions: 1}, bus, &fakeTasks{})

	_, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	_, err = sup.Spawn(context.Background(), SpawnRequest{TaskID: "t2", ProjectKey: "proj"})
	require.Error(t, err)
}

func TestCompleteRenameTransitionsToNamed(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	require.NoError(t, sup.call(func(ctx context.Context) error {
		sup.completeRename(ctx, sess.ID, "alpha")
		return nil
	}))

	snap, ok := sup.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, v1.StateNamed, snap.State)
	assert.Equal(t, "jat-alpha", snap.DisplayName)
}

func TestCompleteRenameRetriesWithSuffixOnCollision(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	first, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)
	second, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t2", ProjectKey: "proj"})
	require.NoError(t, err)

	require.NoError(t, sup.call(func(ctx context.Context) error {
		sup.completeRename(ctx, first.ID, "alpha")
		return nil
	}))
	require.NoError(t, sup.call(func(ctx context.Context) error {
		sup.completeRename(ctx, second.ID, "alpha")
		return nil
	}))

	firstSnap, ok := sup.Get(first.ID)
	require.True(t, ok)
	secondSnap, ok := sup.Get(second.ID)
	require.True(t, ok)

	assert.Equal(t, "jat-alpha", firstSnap.DisplayName)
	assert.Equal(t, "jat-alpha-2", secondSnap.DisplayName)
	assert.Equal(t, v1.StateNamed, secondSnap.State)
}

func TestSignalDrivesStateTransition(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	sup.OnSignal(context.Background(), v1.Signal{Kind: v1.SignalWorking, Session: sess.ID, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		snap, _ := sup.Get(sess.ID)
		return snap.State == v1.StateWorking
	}, time.Second, 5*time.Millisecond)
}

func TestReviewSignalAutoCompletesUnderAutoPolicy(t *testing.T) {
	bus := newFakeBus()
	cfg := Config{ReviewPolicy: []v1.ReviewPolicyRule{
		{TaskTypePattern: "*", PriorityPredicate: "*", Outcome: v1.ReviewAuto},
	}}
	tasks := &fakeTasks{info: TaskInfo{TaskType: "bugfix", Priority: "p1"}}
	sup := newTestSupervisor(t, cfg, bus, tasks)

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	sup.OnSignal(context.Background(), v1.Signal{Kind: v1.SignalReview, Session: sess.ID, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		snap, _ := sup.Get(sess.ID)
		return snap.State == v1.StateCompleting
	}, time.Second, 5*time.Millisecond)

	bus.mu.Lock()
	assert.Contains(t, bus.sentText, "/jat:complete")
	bus.mu.Unlock()

	tasks.mu.Lock()
	defer tasks.mu.Unlock()
	assert.Contains(t, tasks.completed, "t1")
}

func TestReviewSignalSurfacesDecisionUnderManualPolicy(t *testing.T) {
	bus := newFakeBus()
	cfg := Config{ReviewPolicy: []v1.ReviewPolicyRule{
		{TaskTypePattern: "*", PriorityPredicate: "*", Outcome: v1.ReviewManual},
	}}
	sup := newTestSupervisor(t, cfg, bus, &fakeTasks{info: TaskInfo{TaskType: "feature", Priority: "p2"}})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	sup.OnSignal(context.Background(), v1.Signal{Kind: v1.SignalReview, Session: sess.ID, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		var pending bool
		_ = sup.call(func(ctx context.Context) error {
			pending = sup.reviewDecisionPending[sess.ID]
			return nil
		})
		return pending
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.ResolveReviewDecision(context.Background(), sess.ID, "complete_and_kill"))
	snap, ok := sup.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, v1.StateCompleting, snap.State)
}

func TestKillRemovesSession(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	require.NoError(t, sup.Kill(context.Background(), sess.ID))

	_, ok := sup.Get(sess.ID)
	assert.False(t, ok)
}

func TestWatchdogKillsDisappearedSession(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)

	bus.mu.Lock()
	delete(bus.exists, sess.DisplayName)
	bus.mu.Unlock()

	require.NoError(t, sup.call(func(ctx context.Context) error {
		sup.watchdogTick(ctx)
		return nil
	}))

	_, ok := sup.Get(sess.ID)
	assert.False(t, ok)
}

func TestWatchdogDeclaresStartupTimeoutDead(t *testing.T) {
	bus := newFakeBus()
	sup := newTestSupervisor(t, Config{ClaudeStartupTimeout: time.Millisecond}, bus, &fakeTasks{})

	sess, err := sup.Spawn(context.Background(), SpawnRequest{TaskID: "t1", ProjectKey: "proj"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, sup.call(func(ctx context.Context) error {
		sup.watchdogTick(ctx)
		return nil
	}))

	snap, ok := sup.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, v1.StateDead, snap.State)
}
