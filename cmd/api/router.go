package api

import (
	"net/http"

	"mailsync-backend/internal/auth/delivery"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(r *gin.Engine, tokenUsecase authUsecase.TokenUsecase, emailHandler *emailDelivery.EmailHandler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Duplicate detection routes (protected)
		dedup := api.Group("/dedup")
		dedup.Use(delivery.AuthMiddleware(tokenUsecase))
		{
			dedup.POST("/check", emailHandler.CheckDuplicate)
			dedup.POST("/batch", emailHandler.BatchCheck)
		}

		// Email routes (protected)
		emails := api.Group("/emails")
		emails.Use(delivery.AuthMiddleware(tokenUsecase))
		{
			emails.POST("/ingest", emailHandler.IngestEmail)
			emails.POST("/ingest/raw", emailHandler.IngestRaw)
			emails.POST("/ingest/async", emailHandler.IngestAsync)
			emails.DELETE("/:messageId", emailHandler.DeleteEmail)
		}

		// Mailbox sync routes (protected)
		sync := api.Group("/sync")
		sync.Use(delivery.AuthMiddleware(tokenUsecase))
		{
			sync.POST("/imap", emailHandler.SyncIMAP)
			sync.POST("/gmail", emailHandler.SyncGmail)
		}
	}
}
