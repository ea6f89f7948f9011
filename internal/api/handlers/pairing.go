package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/chargegazer/internal/models"
)

// optionalTimestamp 空字符串表示由服务取当前时间
func optionalTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return models.ParseTimestamp(s)
}

// OpenPairing 开始充电配对
// POST /api/pairings
func (h *Handler) OpenPairing(c *gin.Context) {
	var req models.PairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startedAt, err := optionalTimestamp(req.StartedAt)
	if err != nil {
		h.respondError(c, "Invalid startedAt", err)
		return
	}

	p, err := h.pairings.OpenPairing(c.Request.Context(), req.VehicleID, req.MeterID, startedAt)
	if err != nil {
		h.respondError(c, "Failed to open pairing", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": p})
}

// ClosePairing 结束充电配对，请求体可省略
// POST /api/pairings/:id/close
func (h *Handler) ClosePairing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pairing ID"})
		return
	}

	var req models.ClosePairingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	endedAt, err := optionalTimestamp(req.EndedAt)
	if err != nil {
		h.respondError(c, "Invalid endedAt", err)
		return
	}

	p, err := h.pairings.ClosePairing(c.Request.Context(), id, endedAt)
	if err != nil {
		h.respondError(c, "Failed to close pairing", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": p})
}

// ListPairings 车辆的配对历史
// GET /api/vehicles/:vehicleId/pairings
func (h *Handler) ListPairings(c *gin.Context) {
	pairings, err := h.pairings.ListPairings(c.Request.Context(), c.Param("vehicleId"))
	if err != nil {
		h.respondError(c, "Failed to list pairings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pairings})
}
