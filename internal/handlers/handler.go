package handlers

import (
	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/service"
)

// Handler wires the HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs the HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	{
		h.registerUPSRoutes(api)
		h.registerConfigRoutes(api)
	}

	// Live snapshot feed (HTTP upgrade) on the same port.
	router.GET("/ws", h.wsStream)

	return router
}

func (h *Handler) registerUPSRoutes(api *gin.RouterGroup) {
	ups := api.Group("/ups")
	{
		ups.GET("", h.listUPS)
		ups.GET("/:name", h.getLatest)
		ups.GET("/:name/history", h.getHistory)
		ups.GET("/:name/energy", h.getEnergy)
		ups.GET("/:name/watts_per_minute", h.getMinuteWatts)
		ups.GET("/:name/events", h.getEvents)
		ups.GET("/:name/health", h.getUPSHealth)
		ups.GET("/:name/debug", h.debugStatus)
	}
}

func (h *Handler) registerConfigRoutes(api *gin.RouterGroup) {
	cfg := api.Group("/config")
	{
		cfg.GET("/ups", h.listUPSConfigs)
		cfg.POST("/ups", h.addUPSConfig)
		cfg.POST("/ups/test", h.testNewUPS)
		cfg.GET("/ups/:name", h.getUPSConfig)
		cfg.PUT("/ups/:name", h.updateUPSConfig)
		cfg.DELETE("/ups/:name", h.deleteUPSConfig)
		cfg.POST("/ups/:name/test", h.testUPS)
		cfg.GET("/smtp", h.getSMTPConfig)
		cfg.PUT("/smtp", h.updateSMTPConfig)
	}
}
