package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/chargegazer/internal/models"
)

// parseWindow 解析 ?window=，缺省返回 0 由服务使用默认窗口
func parseWindow(c *gin.Context) (time.Duration, error) {
	raw := c.Query("window")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, models.Validationf("invalid window %q, expected a positive duration such as 24h", raw)
	}
	return d, nil
}

// GetPerformance 车辆充电效率报告
// GET /api/analytics/performance/:vehicleId?window=24h
func (h *Handler) GetPerformance(c *gin.Context) {
	window, err := parseWindow(c)
	if err != nil {
		h.respondError(c, "Invalid window", err)
		return
	}

	report, err := h.analytics.GetPerformance(c.Request.Context(), c.Param("vehicleId"), window, time.Time{})
	if err != nil {
		h.respondError(c, "Failed to build performance report", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetVehicleStatus 车辆最新状态
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	cur, err := h.analytics.GetCurrentStatus(c.Request.Context(), c.Param("vehicleId"))
	if err != nil {
		h.respondError(c, "Failed to get vehicle status", err)
		return
	}

	c.JSON(http.StatusOK, cur)
}

// GetMeterStatus 电表最新状态
func (h *Handler) GetMeterStatus(c *gin.Context) {
	cur, err := h.analytics.GetMeterStatus(c.Request.Context(), c.Param("meterId"))
	if err != nil {
		h.respondError(c, "Failed to get meter status", err)
		return
	}

	c.JSON(http.StatusOK, cur)
}

// GetLatestReading 车辆事件时间最新的历史读数
func (h *Handler) GetLatestReading(c *gin.Context) {
	reading, err := h.analytics.GetLatestVehicleReading(c.Request.Context(), c.Param("vehicleId"))
	if err != nil {
		h.respondError(c, "Failed to get latest reading", err)
		return
	}

	c.JSON(http.StatusOK, reading)
}

// GetFleetSummary 车队汇总
// GET /api/analytics/fleet/summary?window=24h
func (h *Handler) GetFleetSummary(c *gin.Context) {
	window, err := parseWindow(c)
	if err != nil {
		h.respondError(c, "Invalid window", err)
		return
	}

	summary, err := h.analytics.GetFleetSummary(c.Request.Context(), window, time.Time{})
	if err != nil {
		h.respondError(c, "Failed to build fleet summary", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
