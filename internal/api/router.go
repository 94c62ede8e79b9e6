package api

import (
	"net/http"

	"github.com/frostdev-ops/pma-sensor-core/internal/api/handlers"
	"github.com/frostdev-ops/pma-sensor-core/internal/api/middleware"
	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/pkg/logger"
	"github.com/frostdev-ops/pma-sensor-core/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the HTTP router. gatherer serves /metrics when metrics
// are enabled.
func NewRouter(cfg *config.Config, h *handlers.Handlers, log *logger.BatchLogger,
	collector *metrics.PrometheusCollector, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log.Logger))
	router.Use(middleware.LoggingMiddleware(log, collector))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins))
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})
	router.NoMethod(func(c *gin.Context) {
		utils.SendError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})
	router.HandleMethodNotAllowed = true

	router.GET("/health", h.Health)
	router.GET("/ws", h.WebSocket)

	if cfg.Monitoring.Metrics.Enabled && gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		devices := v1.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.GET("/:uuid", h.GetDevice)
			devices.GET("/:uuid/value", h.GetDeviceValue)
			devices.POST("/:uuid/state", h.UpdateDeviceState)
			devices.GET("/:uuid/history", h.GetDeviceHistory)
		}

		v1.POST("/values/resolve", h.ResolveValues)

		stats := v1.Group("/statistics")
		{
			stats.GET("/changes", h.GetChangeStatistics)
			stats.GET("/cache", h.GetCacheStatistics)
			stats.GET("/sensors", h.GetSensorStatistics)
			stats.GET("/websocket", h.GetWebSocketStats)
		}

		v1.DELETE("/cache", h.ClearCache)
	}

	return router
}
