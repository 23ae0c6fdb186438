package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/obradar/internal/faulttolerance"
	"github.com/navid-fn/obradar/server/internal/handler"
)

type Config struct {
	CandidateHandler *handler.CandidateHandler
	StreamHandler    *handler.StreamHandler
	Health           *faulttolerance.HealthMonitor
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(router)
	}

	api := router.Group("/v1/")
	registerCandidateRoutes(api, cfg.CandidateHandler)
	if cfg.StreamHandler != nil {
		registerStreamRoutes(api, cfg.StreamHandler)
	}

	return router
}
