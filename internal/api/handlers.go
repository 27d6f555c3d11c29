package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/apperrors"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/store"
	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

// Handler holds the HTTP handlers for the Orchestrator API (spec §6.6),
// grounded on the teacher's internal/orchestrator/api.Handler split between
// router wiring and request handling.
type Handler struct {
	sup       *orchestrator.Supervisor
	ruleStore *store.SQLiteStore
	hub       *Hub
	log       *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(sup *orchestrator.Supervisor, ruleStore *store.SQLiteStore, hub *Hub, log *logging.Logger) *Handler {
	return &Handler{sup: sup, ruleStore: ruleStore, hub: hub, log: log.WithFields(zap.String("component", "api"))}
}

func writeErr(c *gin.Context, err error) {
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		c.JSON(ae.HTTPStatus, gin.H{"code": ae.Code, "message": ae.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
}

// ListSessions handles GET /api/sessions (spec §6.6).
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sup.Snapshot())
}

// StreamSessions handles GET /api/sessions/stream, an SSE feed of session and
// question lifecycle events (spec §6.6).
func (h *Handler) StreamSessions(c *gin.Context) {
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// SpawnSession handles POST /api/sessions/spawn (spec §6.6).
func (h *Handler) SpawnSession(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	sess, err := h.sup.Spawn(c.Request.Context(), orchestrator.SpawnRequest{
		TaskID: req.TaskID, ProjectKey: req.ProjectKey, Epic: req.Epic,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess)
}

func (h *Handler) resolveSessionID(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if sess, ok := h.sup.Get(name); ok {
		return sess.ID, true
	}
	for _, sess := range h.sup.Snapshot() {
		if sess.DisplayName == name {
			return sess.ID, true
		}
	}
	return "", false
}

// KillSession handles POST /api/sessions/:name/kill.
func (h *Handler) KillSession(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("session", c.Param("name")))
		return
	}
	if err := h.sup.Kill(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenameSession handles POST /api/sessions/:name/rename.
func (h *Handler) RenameSession(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("session", c.Param("name")))
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.sup.Rename(c.Request.Context(), id, req.NewName); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendKeysSession handles POST /api/sessions/:name/send-keys.
func (h *Handler) SendKeysSession(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("session", c.Param("name")))
		return
	}
	var req sendKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.sup.SendKeys(c.Request.Context(), id, req.Text); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AnswerSession handles POST /api/sessions/:name/answer (spec §4.6).
func (h *Handler) AnswerSession(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("session", c.Param("name")))
		return
	}
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.sup.AnswerQuestion(c.Request.Context(), id, req.Choice, req.ChoiceValue, req.Confirmed, req.Text); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRules handles GET /api/rules (spec §6.6, §6.4).
func (h *Handler) ListRules(c *gin.Context) {
	snap, err := h.ruleStore.Snapshot(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CreateRule handles POST /api/rules.
func (h *Handler) CreateRule(c *gin.Context) {
	var rule v1.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.ruleStore.Upsert(c.Request.Context(), rule); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/rules/:id.
func (h *Handler) UpdateRule(c *gin.Context) {
	var rule v1.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	rule.ID = c.Param("id")
	if err := h.ruleStore.Upsert(c.Request.Context(), rule); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/:id.
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.ruleStore.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderRules handles POST /api/rules/reorder.
func (h *Handler) ReorderRules(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.ruleStore.Reorder(c.Request.Context(), req.OrderedIDs); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportRules handles GET /api/rules/export (spec §6.4).
func (h *Handler) ExportRules(c *gin.Context) {
	raw, err := h.ruleStore.Export(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// ImportRules handles POST /api/rules/import?mode=merge|replace (spec §6.4).
func (h *Handler) ImportRules(c *gin.Context) {
	mode := store.ImportMerge
	if c.Query("mode") == "replace" {
		mode = store.ImportReplace
	}
	raw, err := c.GetRawData()
	if err != nil {
		writeErr(c, apperrors.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := h.ruleStore.Import(c.Request.Context(), raw, mode); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadServer handles GET /api/servers/:name, a read-only view of a sidecar
// dev-server session (spec §6.6).
func (h *Handler) ReadServer(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("server session", c.Param("name")))
		return
	}
	sess, _ := h.sup.Get(id)
	c.JSON(http.StatusOK, serverSessionView{Session: sess, DetectedPort: h.sup.DetectedPort(id)})
}

// RestartServer handles POST /api/servers/:name/restart: kill and recreate
// the server session, re-detecting its port from capture (spec §6.6, §4.3).
func (h *Handler) RestartServer(c *gin.Context) {
	id, ok := h.resolveSessionID(c)
	if !ok {
		writeErr(c, apperrors.NotFound("server session", c.Param("name")))
		return
	}
	sess, _ := h.sup.Get(id)
	if err := h.sup.Kill(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	newSess, err := h.sup.Spawn(c.Request.Context(), orchestrator.SpawnRequest{TaskID: sess.TaskID, ProjectKey: sess.ProjectKey})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, serverSessionView{Session: newSess, DetectedPort: h.sup.DetectedPort(newSess.ID)})
}
