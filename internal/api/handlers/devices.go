package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	apperrors "github.com/frostdev-ops/pma-sensor-core/pkg/errors"
	"github.com/frostdev-ops/pma-sensor-core/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 50
	maxPayloadSize      = 1 << 20
	maxBatchSize        = 500
)

// GetDevices lists device states, optionally narrowed by room and type
func (h *Handlers) GetDevices(c *gin.Context) {
	room := c.Query("room")
	deviceType := c.Query("type")

	states := h.state.GetAllDeviceStates()
	filtered := make([]*types.DeviceState, 0, len(states))
	for _, s := range states {
		if room != "" && !strings.EqualFold(s.Room, room) {
			continue
		}
		if deviceType != "" && !strings.EqualFold(s.DeviceType, deviceType) {
			continue
		}
		filtered = append(filtered, s)
	}

	utils.SendSuccessWithMeta(c, filtered, gin.H{"count": len(filtered)})
}

// GetDevice returns the tracked state of one device
func (h *Handlers) GetDevice(c *gin.Context) {
	uuid := c.Param("uuid")
	s, ok := h.state.GetDeviceState(uuid)
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Device state not found")
		return
	}
	utils.SendSuccess(c, s)
}

// GetDeviceValue resolves the current value of one device
func (h *Handlers) GetDeviceValue(c *gin.Context) {
	value, err := h.values.ResolveDeviceValue(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, value)
}

// UpdateDeviceState feeds a raw payload pushed by the device into the state
// manager. The body is the payload itself.
func (h *Handlers) UpdateDeviceState(c *gin.Context) {
	uuid := c.Param("uuid")
	if _, ok := h.directory.Device(uuid); !ok {
		utils.SendError(c, http.StatusNotFound, "Device not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadSize))
	if err != nil {
		utils.SendError(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		utils.SendError(c, http.StatusBadRequest, "Body must be a JSON payload")
		return
	}

	event := h.state.UpdateDeviceState(c.Request.Context(), uuid, json.RawMessage(body))
	s, _ := h.state.GetDeviceState(uuid)

	h.log.WithFields(logrus.Fields{
		"uuid":    uuid,
		"emitted": event != nil,
	}).Debug("Device state pushed")

	utils.SendSuccess(c, gin.H{
		"event": event,
		"state": s,
	})
}

// GetDeviceHistory returns recent change events for a device, newest first
func (h *Handlers) GetDeviceHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.SendError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events := h.state.GetDeviceHistory(c.Param("uuid"), limit)
	if events == nil {
		events = []types.StateChangeEvent{}
	}
	utils.SendSuccessWithMeta(c, events, gin.H{"count": len(events), "limit": limit})
}

// ResolveRequest is the body of a batch resolution
type ResolveRequest struct {
	UUIDs []string `json:"uuids" binding:"required,min=1"`
}

// ResolveValues resolves a batch of devices. Unknown uuids are omitted.
func (h *Handlers) ResolveValues(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Body must be {\"uuids\": [...]} with at least one uuid")
		return
	}
	if len(req.UUIDs) > maxBatchSize {
		utils.SendError(c, http.StatusBadRequest, "Too many uuids, maximum is "+strconv.Itoa(maxBatchSize))
		return
	}

	values, err := h.values.ResolveBatchValues(c.Request.Context(), req.UUIDs)
	if err != nil {
		h.sendAppError(c, err)
		return
	}

	missing := make([]string, 0)
	for _, uuid := range req.UUIDs {
		if _, ok := values[uuid]; !ok {
			missing = append(missing, uuid)
		}
	}
	utils.SendSuccessWithMeta(c, values, gin.H{
		"requested": len(req.UUIDs),
		"resolved":  len(values),
		"missing":   missing,
	})
}

func (h *Handlers) sendAppError(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	if appErr.Code >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.Error(err)
	utils.SendErrorWithDetails(c, appErr.Code, appErr.Message, appErr.Details)
}
