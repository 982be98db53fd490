package handlers

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/confluence-qa/config"
)

// SetupRouter wires every endpoint onto a gin engine.
func SetupRouter(
	cfg *config.Config,
	adminHandlers *AdminHandlers,
	retrievalHandlers *RetrievalHandlers,
	syncHandlers *SyncHandlers,
	sessionHandlers *SessionHandlers,
) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", adminHandlers.Health)

	api := router.Group("/api")
	{
		api.GET("/stats", adminHandlers.Stats)
		api.GET("/config", adminHandlers.GetConfig)

		api.POST("/search", retrievalHandlers.Search)
		api.POST("/pages", retrievalHandlers.FetchPages)
		api.POST("/expand", retrievalHandlers.Expand)

		db := api.Group("/db")
		{
			db.GET("/pages", adminHandlers.ListPages)
			db.GET("/pages/:id", adminHandlers.GetPageDetail)
			db.GET("/spaces", adminHandlers.ListSpaces)
		}

		api.GET("/instructions", adminHandlers.GetInstructions)
		api.PUT("/instructions", adminHandlers.SetInstructions)
		api.POST("/instructions/reset", adminHandlers.ResetInstructions)
	}

	sync := router.Group("/sync")
	{
		sync.POST("/run", syncHandlers.RunSync)
		sync.GET("/status", syncHandlers.SyncStatus)
	}

	sessions := router.Group("/sessions")
	{
		sessions.POST("", sessionHandlers.CreateSession)
		sessions.GET("", sessionHandlers.ListSessions)
		sessions.GET("/:id", sessionHandlers.GetSession)
		sessions.DELETE("/:id", sessionHandlers.DeleteSession)
		sessions.POST("/:id/feedback", sessionHandlers.AddFeedback)
	}

	return router
}
