package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/obradar/server/internal/handler"
)

func registerCandidateRoutes(router *gin.RouterGroup, candidateHandler *handler.CandidateHandler) {
	candidates := router.Group("/candidates")
	{
		candidates.GET("", candidateHandler.GetCandidates)
		candidates.GET("/confirmed", candidateHandler.GetConfirmed)
		candidates.GET("/symbols", candidateHandler.GetSymbols)
		candidates.GET("/timeframes", candidateHandler.GetTimeframes)
		candidates.PUT("/:id/confirmation", candidateHandler.PutConfirmation)
		candidates.DELETE("/unconfirmed", candidateHandler.DeleteUnconfirmed)
	}
}

func registerStreamRoutes(router *gin.RouterGroup, streamHandler *handler.StreamHandler) {
	router.GET("/stream", streamHandler.Stream)
}
