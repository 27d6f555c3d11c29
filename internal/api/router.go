package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/store"
)

// NewRouter builds the gin engine serving spec §6.6's HTTP/SSE surface.
func NewRouter(sup *orchestrator.Supervisor, ruleStore *store.SQLiteStore, hub *Hub, log *logging.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	h := NewHandler(sup, ruleStore, hub, log)

	api := r.Group("/api")
	{
		sessions := api.Group("/sessions")
		sessions.GET("", h.ListSessions)
		sessions.GET("/stream", h.StreamSessions)
		sessions.POST("/spawn", h.SpawnSession)
		sessions.POST("/:name/kill", h.KillSession)
		sessions.POST("/:name/rename", h.RenameSession)
		sessions.POST("/:name/send-keys", h.SendKeysSession)
		sessions.POST("/:name/answer", h.AnswerSession)

		rulesGroup := api.Group("/rules")
		rulesGroup.GET("", h.ListRules)
		rulesGroup.POST("", h.CreateRule)
		rulesGroup.PUT("/:id", h.UpdateRule)
		rulesGroup.DELETE("/:id", h.DeleteRule)
		rulesGroup.POST("/reorder", h.ReorderRules)
		rulesGroup.GET("/export", h.ExportRules)
		rulesGroup.POST("/import", h.ImportRules)

		servers := api.Group("/servers")
		servers.GET("/:name", h.ReadServer)
		servers.POST("/:name/restart", h.RestartServer)
	}

	return r
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			log.Warn("request error", zap.String("path", c.Request.URL.Path), zap.String("errors", c.Errors.String()))
		}
	}
}
