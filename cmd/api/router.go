package api

import (
	"net/http"

	emailDelivery "noodle-backend/internal/email/delivery"
	graphDelivery "noodle-backend/internal/graph/delivery"
	ingestDelivery "noodle-backend/internal/ingest/delivery"
	promptDelivery "noodle-backend/internal/prompt/delivery"
	systemDelivery "noodle-backend/internal/system/delivery"

	"github.com/gin-gonic/gin"
)

// Handlers groups the delivery handlers the router mounts.
type Handlers struct {
	Email  *emailDelivery.EmailHandler
	Graph  *graphDelivery.GraphHandler
	Prompt *promptDelivery.PromptHandler
	Sync   *ingestDelivery.SyncHandler
	System *systemDelivery.SystemHandler
}

// SetupRoutes mounts every route under /api. With a non-empty jwtSecret all
// routes except the health check require a bearer token.
func SetupRoutes(r *gin.Engine, h Handlers, jwtSecret string) {
	api := r.Group("/api")

	// Health check (no auth required)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if jwtSecret != "" {
		api.Use(AuthMiddleware(jwtSecret))
	}

	emails := api.Group("/emails")
	{
		emails.GET("", h.Email.ListEmails)
		emails.GET("/:id", h.Email.GetEmail)
		emails.DELETE("/:id", h.Email.PurgeEmail)
		emails.POST("/:id/reprocess", h.Email.Reprocess)
		emails.POST("/:id/draft", h.Email.DraftReply)
	}

	api.GET("/search", h.Email.Search)
	api.POST("/search/semantic", h.Email.SemanticSearch)
	api.GET("/stats", h.Email.Stats)
	api.POST("/index/rebuild", h.Email.RebuildIndex)

	graph := api.Group("/graph")
	{
		graph.GET("", h.Graph.GetGraph)
		graph.GET("/entities", h.Graph.SearchEntities)
		graph.GET("/entities/:id", h.Graph.GetEntity)
		graph.GET("/entities/:id/neighbors", h.Graph.GetNeighbors)
		graph.GET("/entities/:id/similar", h.Graph.GetSimilar)
		graph.POST("/entities/:id/merge", h.Graph.Merge)
	}

	prompts := api.Group("/prompts")
	{
		prompts.GET("", h.Prompt.ListPrompts)
		prompts.POST("", h.Prompt.CreatePrompt)
		prompts.POST("/import", h.Prompt.ImportPrompts)
		prompts.GET("/:id", h.Prompt.GetPrompt)
		prompts.PUT("/:id", h.Prompt.UpdatePrompt)
		prompts.DELETE("/:id", h.Prompt.DeletePrompt)
		prompts.POST("/:id/run", h.Prompt.RunPrompt)
		prompts.GET("/:id/runs", h.Prompt.ListRuns)
	}

	api.GET("/sync", h.Sync.GetStatus)
	api.POST("/sync", h.Sync.TriggerSync)

	api.GET("/logs", h.System.ListLogs)
	api.DELETE("/logs", h.System.PruneLogs)

	settings := api.Group("/settings")
	{
		settings.GET("", h.System.ListSettings)
		settings.GET("/ollama", h.System.GetOllamaSettings)
		settings.PUT("/ollama", h.System.UpdateOllamaSettings)
		settings.POST("/ollama/test", h.System.TestOllamaConnection)
		settings.GET("/:key", h.System.GetSetting)
		settings.PUT("/:key", h.System.SetSetting)
	}
}
