package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-sensor-core/pkg/utils"
	"github.com/gin-gonic/gin"
)

// GetChangeStatistics returns aggregated change event statistics
func (h *Handlers) GetChangeStatistics(c *gin.Context) {
	utils.SendSuccess(c, h.state.GetChangeStatistics())
}

// GetCacheStatistics returns cache counters
func (h *Handlers) GetCacheStatistics(c *gin.Context) {
	utils.SendSuccess(c, h.cache.Stats())
}

// GetSensorStatistics returns sensor detection counters
func (h *Handlers) GetSensorStatistics(c *gin.Context) {
	if h.sensors == nil {
		utils.SendSuccess(c, gin.H{})
		return
	}
	utils.SendSuccess(c, h.sensors.Stats())
}

// ClearCache drops cached raw values and sensor detections
func (h *Handlers) ClearCache(c *gin.Context) {
	h.cache.Clear()
	if h.sensors != nil {
		h.sensors.ClearCache()
	}
	h.log.Info("Caches cleared via API")
	utils.SendSuccess(c, gin.H{"cleared": true})
}

// GetWebSocketStats returns websocket hub counters
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	if h.hub == nil {
		utils.SendSuccess(c, gin.H{})
		return
	}
	utils.SendSuccess(c, h.hub.Stats())
}

// WebSocket upgrades to the live event stream
func (h *Handlers) WebSocket(c *gin.Context) {
	if h.hub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "Event streaming disabled")
		return
	}
	h.hub.ServeWS(c)
}
