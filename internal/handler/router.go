package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/magent/internal/middleware"
)

type RouterDeps struct {
	Ingest        *IngestHandler
	Conversations *ConversationHandler
	JWTSecret     []byte
	RateLimit     time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret), middleware.RateLimit(deps.RateLimit))
	authGroup.POST("/ingest", deps.Ingest.Ingest)
	authGroup.POST("/converse", deps.Conversations.Converse)
	authGroup.GET("/conversations/:id/messages", deps.Conversations.History)
}
