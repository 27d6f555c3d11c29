package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/classifier"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
	"github.com/jpatrickfarrell/jat-sub014/internal/question"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/store"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

type fakeBus struct{ exists map[string]bool }

func newFakeBus() *fakeBus { return &fakeBus{exists: map[string]bool{}} }

func (f *fakeBus) Create(ctx context.Context, displayName, workingDir string, w, h int, cmd string) error {
	f.exists[displayName] = true
	return nil
}
func (f *fakeBus) Rename(ctx context.Context, oldName, newName string) error {
	delete(f.exists, oldName)
	f.exists[newName] = true
	return nil
}
func (f *fakeBus) SendText(ctx context.Context, name, text string) error { return nil }
func (f *fakeBus) SendKeys(ctx context.Context, name string, keys ...string) error { return nil }
func (f *fakeBus) Capture(ctx context.Context, name string, maxLines int) (string, error) {
	return "", nil
}
func (f *fakeBus) Exists(ctx context.Context, name string) (bool, error) { return f.exists[name], nil }
func (f *fakeBus) Kill(ctx context.Context, name string) error          { delete(f.exists, name); return nil }
func (f *fakeBus) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

type fakeProjects struct{}

func (fakeProjects) ResolveProject(key string) (orchestrator.Project, error) {
	return orchestrator.Project{WorkingDir: "/tmp/" + key, Width: 80, Height: 40}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	bus := newFakeBus()
	capEng := capture.New(bus, log, capture.DefaultConfig())
	qs := question.New(question.Config{TmpDir: t.TempDir()}, bus, log)
	cl := classifier.New(classifier.DefaultConfig())

	sup := orchestrator.New(orchestrator.Deps{
		Bus: bus, CaptureEng: capEng, Classifier: cl, Questions: qs, Projects: fakeProjects{},
	}, orchestrator.Config{MaxSessions: 8, AgentStagger: 10 * time.Millisecond, ClaudeStartupTimeout: time.Hour}, log)
	sup.Start(context.Background())
	t.Cleanup(sup.Stop)

	ruleStore, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ruleStore.Close() })

	hub := NewHub()
	sup.Subscribe(hub)
	qs.Subscribe(hub)

	r := NewRouter(sup, ruleStore, hub, log)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sup
}

func TestSpawnAndListSessions(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(spawnRequest{TaskID: "t1", ProjectKey: "proj"})
	resp, err := http.Post(srv.URL+"/api/sessions/spawn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sess v1.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, "t1", sess.TaskID)

	listResp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var sessions []v1.Session
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&sessions))
	assert.Len(t, sessions, 1)
}

func TestSpawnOverCapacityReturns429(t *testing.T) {
	srv, sup := newTestServer(t)
	_ = sup

	for i := 0; i < 8; i++ {
		body, _ := json.Marshal(spawnRequest{TaskID: "t", ProjectKey: "proj"})
		resp, err := http.Post(srv.URL+"/api/sessions/spawn", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
	}

	body, _ := json.Marshal(spawnRequest{TaskID: "overflow", ProjectKey: "proj"})
	resp, err := http.Post(srv.URL+"/api/sessions/spawn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRuleCRUDAndExport(t *testing.T) {
	srv, _ := newTestServer(t)

	rule := v1.Rule{
		ID: "r1", Name: "test", Enabled: true, Priority: 1,
		Patterns: []v1.Pattern{{Mode: v1.PatternLiteral, Text: "error"}},
		Actions:  []v1.Action{{Kind: v1.ActionNotifyOnly, Payload: "oops"}},
	}
	body, _ := json.Marshal(rule)
	resp, err := http.Post(srv.URL+"/api/rules", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/rules")
	require.NoError(t, err)
	var rules []v1.Rule
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&rules))
	listResp.Body.Close()
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)

	exportResp, err := http.Get(srv.URL + "/api/rules/export")
	require.NoError(t, err)
	defer exportResp.Body.Close()
	assert.Equal(t, http.StatusOK, exportResp.StatusCode)
}

func TestKillSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/sessions/does-not-exist/kill", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
