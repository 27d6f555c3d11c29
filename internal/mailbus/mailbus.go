// Package mailbus is a client for the agent-mail message bus (spec §1
// "coordinates handoffs between agents through a message bus with
// file-range reservations"). The bus itself is out of scope (spec §1
// Non-goals: "treated as an opaque HTTP service"); this package only models
// the requests the Orchestrator plausibly sends it, grounded on the
// teacher's stdlib-http PAT client (internal/github/pat_client.go get/post)
// and its exponential-backoff retry wrapper (internal/terminalbus.TmuxBus
// retry, spec §7 Transient policy).
package mailbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
)

// Config points the client at the agent-mail service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the agent-mail HTTP service. It implements
// orchestrator.MailBus.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

var _ orchestrator.MailBus = (*Client)(nil)

// New creates a Client. An empty BaseURL yields a Client whose calls are
// no-ops that return nil, so an unconfigured mailbus behaves as absent.
func New(cfg Config, log *logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.WithFields(),
	}
}

type handoffPayload struct {
	FromSessionID string `json:"fromSessionId"`
	FromTaskID    string `json:"fromTaskId"`
	ToTaskID      string `json:"toTaskId"`
	ProjectKey    string `json:"projectKey"`
	WorkingDir    string `json:"workingDir"`
	Note          string `json:"note,omitempty"`
}

// NotifyHandoff tells the bus that one agent's session is handing its
// working directory and task context off to the next agent in an epic
// chain (spec §3 GLOSSARY "Epic"; spec §1 "coordinates handoffs between
// agents"). Best-effort: failures are retried with backoff and then
// surfaced as a Transient *apperrors.AppError for the caller to log and
// ignore rather than block the chain on.
func (c *Client) NotifyHandoff(ctx context.Context, h orchestrator.HandoffMessage) error {
	body, err := json.Marshal(handoffPayload{
		FromSessionID: h.FromSessionID, FromTaskID: h.FromTaskID, ToTaskID: h.ToTaskID,
		ProjectKey: h.ProjectKey, WorkingDir: h.WorkingDir, Note: h.Note,
	})
	if err != nil {
		return fmt.Errorf("marshal handoff payload: %w", err)
	}
	return c.retry(ctx, "handoff", func() error {
		return c.post(ctx, "/v1/handoffs", body)
	})
}

// ReleaseReservations releases every file-range reservation a session holds
// (spec §1 "file-range reservations"), called when a session is killed so
// its locks don't strand other agents (spec §4.7 killLocked).
func (c *Client) ReleaseReservations(ctx context.Context, sessionID string) error {
	return c.retry(ctx, "release-reservations", func() error {
		u := fmt.Sprintf("/v1/reservations?sessionId=%s", sessionID)
		return c.delete(ctx, u)
	})
}

// retry applies the same hard-deadline, 3-attempt exponential backoff the
// Terminal Bus uses against tmux (spec §7 Transient policy), since the
// agent-mail service is just as plausibly flaky over HTTP as tmux is over a
// subprocess boundary.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	if c.baseURL == "" {
		return nil // mailbus not configured; treat as absent rather than failing callers
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	bo = backoff.WithContext(bo, ctx)

	if err := backoff.Retry(fn, bo); err != nil {
		return apperrors.Transient("MAILBUS_UNAVAILABLE", fmt.Sprintf("agent-mail unavailable during %s", op), err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent-mail POST %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent-mail DELETE %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}
