package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veldt/crystal-backend/internal/http/handlers"
)

type RouterConfig struct {
	SessionHandler     *handlers.SessionHandler
	QueryHandler       *handlers.QueryHandler
	IngestHandler      *handlers.IngestHandler
	CrystallizeHandler *handlers.CrystallizeHandler
	ReviewHandler      *handlers.ReviewHandler
	ScaffoldHandler    *handlers.ScaffoldHandler
	GraphHandler       *handlers.GraphHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("crystal-backend"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Sessions
		api.POST("/sessions", cfg.SessionHandler.Create)
		api.GET("/sessions", cfg.SessionHandler.List)
		api.GET("/sessions/:id", cfg.SessionHandler.Get)

		// Capture
		api.POST("/sessions/:id/highlights", cfg.IngestHandler.Highlight)
		api.POST("/sessions/:id/thoughts", cfg.IngestHandler.Thought)
		api.POST("/sessions/:id/harvest", cfg.IngestHandler.Harvest)

		// Crystallization
		api.POST("/sessions/:id/crystallize/preview", cfg.CrystallizeHandler.Preview)
		api.POST("/sessions/:id/crystallize/commit", cfg.CrystallizeHandler.Commit)
		api.GET("/jobs/:id", cfg.CrystallizeHandler.GetJob)
		api.POST("/concepts/merge", cfg.CrystallizeHandler.Merge)

		// Retrieval
		api.POST("/query", cfg.QueryHandler.Query)

		// Review
		api.GET("/review/queue", cfg.ReviewHandler.Queue)
		api.GET("/review/upcoming", cfg.ReviewHandler.Upcoming)
		api.POST("/review/:id/assess", cfg.ReviewHandler.Assess)
		api.GET("/review/stats", cfg.ReviewHandler.Stats)

		// Scaffolds
		api.GET("/concepts/:id/scaffold", cfg.ScaffoldHandler.Get)
		api.DELETE("/concepts/:id/scaffold", cfg.ScaffoldHandler.Invalidate)

		// Graph
		api.GET("/graph", cfg.GraphHandler.Snapshot)
		api.GET("/graph/export", cfg.GraphHandler.Export)
	}

	return router
}
