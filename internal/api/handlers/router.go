package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/chargegazer/pkg/ws"
)

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 遥测接入
		api.POST("/ingestion/meter", h.IngestMeter)
		api.POST("/ingestion/vehicle", h.IngestVehicle)
		api.POST("/ingestion/meter/bulk", h.IngestMeterBulk)
		api.POST("/ingestion/vehicle/bulk", h.IngestVehicleBulk)

		// 分析
		api.GET("/analytics/performance/:vehicleId", h.GetPerformance)
		api.GET("/analytics/status/:vehicleId", h.GetVehicleStatus)
		api.GET("/analytics/meters/:meterId/status", h.GetMeterStatus)
		api.GET("/analytics/history/:vehicleId/latest", h.GetLatestReading)
		api.GET("/analytics/fleet/summary", h.GetFleetSummary)

		// 充电配对
		api.POST("/pairings", h.OpenPairing)
		api.POST("/pairings/:id/close", h.ClosePairing)
		api.GET("/vehicles/:vehicleId/pairings", h.ListPairings)
	}

	// WebSocket
	if h.wsHub != nil {
		r.GET("/ws", h.HandleWebSocket)
	}

	// 健康检查
	r.GET("/health", h.HealthCheck)

	// 指标
	if h.metrics != nil {
		r.GET("/metrics", h.metrics.Handler())
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	// ?deviceId= 只订阅单个电表或车辆
	client := ws.NewClient(h.wsHub, conn, c.Query("deviceId"))
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.wsHub != nil {
		body["ws_clients"] = h.wsHub.ClientCount()
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			body["status"] = "unavailable"
			body["database"] = "down"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "up"
	}

	c.JSON(http.StatusOK, body)
}
