package handlers

import (
	"github.com/frostdev-ops/pma-sensor-core/pkg/utils"
	"github.com/frostdev-ops/pma-sensor-core/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health reports build information and pipeline counters
func (h *Handlers) Health(c *gin.Context) {
	cacheStats := h.cache.Stats()
	health := gin.H{
		"status":          "healthy",
		"service":         "pma-sensor-core",
		"build":           version.GetBuildInfo(),
		"devices":         len(h.directory.Devices()),
		"tracked_devices": len(h.state.GetAllDeviceStates()),
		"cache_hit_rate":  cacheStats.HitRate,
	}
	if h.hub != nil {
		health["websocket_clients"] = h.hub.ClientCount()
	}

	utils.SendSuccess(c, health)
}
