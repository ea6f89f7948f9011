package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/chargegazer/internal/models"
)

// IngestMeter 电表遥测上报
// POST /api/ingestion/meter
func (h *Handler) IngestMeter(c *gin.Context) {
	var req models.MeterTelemetry
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := req.ToReading()
	if err != nil {
		h.respondError(c, "Invalid meter telemetry", err)
		return
	}
	h.ingest(c, rec)
}

// IngestVehicle 车辆遥测上报
// POST /api/ingestion/vehicle
func (h *Handler) IngestVehicle(c *gin.Context) {
	var req models.VehicleTelemetry
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := req.ToReading()
	if err != nil {
		h.respondError(c, "Invalid vehicle telemetry", err)
		return
	}
	h.ingest(c, rec)
}

func (h *Handler) ingest(c *gin.Context, rec models.TelemetryRecord) {
	res, err := h.ingestion.Ingest(c.Request.Context(), rec)
	if err != nil {
		h.respondError(c, "Failed to ingest telemetry", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// IngestMeterBulk 批量电表上报，任一条载荷非法时整批拒绝
// POST /api/ingestion/meter/bulk
func (h *Handler) IngestMeterBulk(c *gin.Context) {
	var reqs []models.MeterTelemetry
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records := make([]models.TelemetryRecord, 0, len(reqs))
	for i, req := range reqs {
		rec, err := req.ToReading()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("record %d: %v", i, err)})
			return
		}
		records = append(records, rec)
	}
	h.ingestBatch(c, records)
}

// IngestVehicleBulk 批量车辆上报
// POST /api/ingestion/vehicle/bulk
func (h *Handler) IngestVehicleBulk(c *gin.Context) {
	var reqs []models.VehicleTelemetry
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records := make([]models.TelemetryRecord, 0, len(reqs))
	for i, req := range reqs {
		rec, err := req.ToReading()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("record %d: %v", i, err)})
			return
		}
		records = append(records, rec)
	}
	h.ingestBatch(c, records)
}

func (h *Handler) ingestBatch(c *gin.Context, records []models.TelemetryRecord) {
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must contain at least one record"})
		return
	}

	res := h.ingestion.IngestBatch(c.Request.Context(), records)
	if res.SuccessCount == 0 {
		h.respondError(c, "Failed to ingest batch", res.FirstError)
		return
	}

	body := gin.H{
		"success": res.FailedCount == 0,
		"count":   res.SuccessCount,
		"failed":  res.FailedCount,
	}
	if res.FirstError != nil {
		body["firstError"] = res.FirstError.Error()
		h.logger.Warn("Partial batch ingestion",
			zap.String("request_id", requestID(c)),
			zap.Int("failed", res.FailedCount),
			zap.Error(res.FirstError))
	}
	c.JSON(http.StatusCreated, body)
}
