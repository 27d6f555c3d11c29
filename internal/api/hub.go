// Package api exposes the Orchestrator over HTTP and Server-Sent Events
// (spec §6.6), grounded on the teacher's gin handler/router split
// (internal/orchestrator/api) with its websocket subscriber-channel fan-out
// (internal/agentctl/process/workspace_tracker.go SubscribeGitStatus /
// notifyGitStatusSubscribers) adapted to SSE, since spec §6.6 calls for an
// SSE stream rather than a websocket.
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Event is one item published on the SSE stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newEvent(typ string, data interface{}) Event {
	raw, _ := json.Marshal(data)
	return Event{Type: typ, Data: raw}
}

// eventSubscriber is a buffered channel of Events; a slow reader never
// blocks the publisher (non-blocking send with drop, mirroring the
// teacher's subscriber channels).
type eventSubscriber chan Event

// Hub fans out session and question lifecycle events to SSE subscribers. It
// implements orchestrator.StateListener and question.Listener.
type Hub struct {
	mu   sync.Mutex
	subs map[eventSubscriber]struct{}
}

// NewHub creates an event Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[eventSubscriber]struct{})}
}

// Subscribe registers a new SSE client and returns its event channel.
func (h *Hub) Subscribe() eventSubscriber {
	sub := make(eventSubscriber, 32)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes an SSE client's event channel.
func (h *Hub) Unsubscribe(sub eventSubscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	close(sub)
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber: drop rather than block the Orchestrator actor.
		}
	}
}

// sessionStateEvent is published on every state transition.
type sessionStateEvent struct {
	SessionID string             `json:"sessionId"`
	From      v1.LifecycleState  `json:"from"`
	To        v1.LifecycleState  `json:"to"`
	At        time.Time          `json:"at"`
}

// OnStateChanged implements orchestrator.StateListener.
func (h *Hub) OnStateChanged(ctx context.Context, sessionID string, from, to v1.LifecycleState) {
	h.publish(newEvent("session.state", sessionStateEvent{SessionID: sessionID, From: from, To: to, At: time.Now()}))
}

// OnSessionSpawned implements orchestrator.StateListener.
func (h *Hub) OnSessionSpawned(ctx context.Context, s v1.Session) {
	h.publish(newEvent("session.spawned", s))
}

// OnSessionRemoved implements orchestrator.StateListener.
func (h *Hub) OnSessionRemoved(ctx context.Context, sessionID string) {
	h.publish(newEvent("session.removed", map[string]interface{}{"sessionId": sessionID}))
}

// OnQuestionBorn implements question.Listener.
func (h *Hub) OnQuestionBorn(ctx context.Context, q v1.Question) {
	h.publish(newEvent("question.born", q))
}

// OnQuestionResolved implements question.Listener.
func (h *Hub) OnQuestionResolved(ctx context.Context, sessionID, questionID string) {
	h.publish(newEvent("question.resolved", map[string]interface{}{"sessionId": sessionID, "questionId": questionID}))
}
