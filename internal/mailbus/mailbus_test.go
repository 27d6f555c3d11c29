package mailbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestNotifyHandoffPostsToBus(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, newTestLogger(t))
	err := c.NotifyHandoff(context.Background(), orchestrator.HandoffMessage{
		FromSessionID: "sess-1", FromTaskID: "t1", ToTaskID: "t2",
		ProjectKey: "proj", WorkingDir: "/tmp/proj",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/handoffs", gotPath)
}

func TestReleaseReservationsIssuesDelete(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		assert.Equal(t, "sess-1", r.URL.Query().Get("sessionId"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, newTestLogger(t))
	require.NoError(t, c.ReleaseReservations(context.Background(), "sess-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestUnconfiguredBaseURLIsANoop(t *testing.T) {
	c := New(Config{}, newTestLogger(t))
	require.NoError(t, c.NotifyHandoff(context.Background(), orchestrator.HandoffMessage{}))
	require.NoError(t, c.ReleaseReservations(context.Background(), "sess-1"))
}

func TestServerErrorIsWrappedAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, newTestLogger(t))
	err := c.NotifyHandoff(context.Background(), orchestrator.HandoffMessage{FromSessionID: "sess-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransient))
}
