package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/chargegazer/internal/metrics"
	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/internal/service"
	"github.com/langchou/chargegazer/pkg/ws"
)

// IngestionService 遥测写入
type IngestionService interface {
	Ingest(ctx context.Context, rec models.TelemetryRecord) (*service.IngestResult, error)
	IngestBatch(ctx context.Context, records []models.TelemetryRecord) service.BatchResult
}

// AnalyticsService 效率分析
type AnalyticsService interface {
	GetPerformance(ctx context.Context, vehicleID string, window time.Duration, now time.Time) (*models.PerformanceReport, error)
	GetCurrentStatus(ctx context.Context, vehicleID string) (*models.VehicleCurrent, error)
	GetMeterStatus(ctx context.Context, meterID string) (*models.MeterCurrent, error)
	GetLatestVehicleReading(ctx context.Context, vehicleID string) (*models.VehicleHistory, error)
	GetFleetSummary(ctx context.Context, window time.Duration, now time.Time) (*models.FleetSummary, error)
}

// PairingService 充电配对
type PairingService interface {
	OpenPairing(ctx context.Context, vehicleID, meterID string, startedAt time.Time) (*models.ChargePairing, error)
	ClosePairing(ctx context.Context, id int64, endedAt time.Time) (*models.ChargePairing, error)
	ListPairings(ctx context.Context, vehicleID string) ([]*models.ChargePairing, error)
}

// Pinger 数据库连通性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler HTTP 处理器
type Handler struct {
	logger    *zap.Logger
	ingestion IngestionService
	analytics AnalyticsService
	pairings  PairingService
	db        Pinger
	wsHub     *ws.Hub
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	ingestion IngestionService,
	analytics AnalyticsService,
	pairings PairingService,
	db Pinger,
	wsHub *ws.Hub,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		logger:    logger,
		ingestion: ingestion,
		analytics: analytics,
		pairings:  pairings,
		db:        db,
		wsHub:     wsHub,
		metrics:   m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// statusFor 错误到 HTTP 状态码的映射
func statusFor(err error) int {
	var se *models.StorageError
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &se) && se.Timeout(), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写错误响应，5xx 不向调用方暴露内部错误
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("request_id", requestID(c)),
			zap.Error(err))
		text := msg
		if status == http.StatusGatewayTimeout {
			text = "Request timed out"
		}
		c.JSON(status, gin.H{"error": text})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
