package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/chargegazer/internal/metrics"
	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/internal/repository"
	"github.com/langchou/chargegazer/pkg/ws"
)

// TelemetryStore 提供 Current + History 双写事务
type TelemetryStore interface {
	WithinTx(ctx context.Context, fn func(w repository.TelemetryWriter) error) error
}

// Notifier 最新状态变更推送
type Notifier interface {
	Publish(msgType, deviceID string, data interface{})
}

// IngestResult 单条遥测写入结果
type IngestResult struct {
	Success        bool   `json:"success"`
	DeviceID       string `json:"deviceId"`
	Message        string `json:"message"`
	CurrentApplied bool   `json:"currentApplied"` // false 表示读数早于当前状态，仅写入历史
}

// BatchResult 批量写入结果，FirstError 为下标最小的失败记录的错误
type BatchResult struct {
	SuccessCount int   `json:"successCount"`
	FailedCount  int   `json:"failedCount"`
	FirstError   error `json:"-"`
}

// IngestionService 遥测写入服务
type IngestionService struct {
	logger      *zap.Logger
	store       TelemetryStore
	notifier    Notifier
	metrics     *metrics.Metrics
	skipStale   bool
	concurrency int
	now         func() time.Time
}

// NewIngestionService 创建写入服务，notifier 与 m 可为 nil
func NewIngestionService(
	logger *zap.Logger,
	store TelemetryStore,
	notifier Notifier,
	m *metrics.Metrics,
	skipStale bool,
	batchConcurrency int,
) *IngestionService {
	if batchConcurrency < 1 {
		batchConcurrency = 1
	}
	return &IngestionService{
		logger:      logger,
		store:       store,
		notifier:    notifier,
		metrics:     m,
		skipStale:   skipStale,
		concurrency: batchConcurrency,
		now:         time.Now,
	}
}

// Ingest 在同一事务内更新 Current 并追加 History
func (s *IngestionService) Ingest(ctx context.Context, rec models.TelemetryRecord) (*IngestResult, error) {
	if rec == nil {
		return nil, models.Validationf("telemetry record is required")
	}
	if rec.DeviceID() == "" {
		return nil, models.Validationf("%s id must not be empty", rec.Kind())
	}
	if rec.EventTime().IsZero() {
		return nil, models.Validationf("timestamp is required")
	}

	started := time.Now()
	receivedAt := s.now().UTC()

	var (
		write   func(w repository.TelemetryWriter) (bool, error)
		msgType string
		update  interface{}
		label   string
	)

	switch r := rec.(type) {
	case models.MeterReading:
		current := &models.MeterCurrent{
			MeterID:       r.MeterID,
			KwhConsumedAC: r.KwhConsumedAC,
			Voltage:       r.Voltage,
			LastUpdated:   r.Timestamp,
		}
		history := &models.MeterHistory{
			MeterID:       r.MeterID,
			KwhConsumedAC: r.KwhConsumedAC,
			Voltage:       r.Voltage,
			Timestamp:     r.Timestamp,
			ReceivedAt:    receivedAt,
		}
		write = func(w repository.TelemetryWriter) (bool, error) {
			applied, err := w.UpsertMeterCurrent(ctx, current, s.skipStale)
			if err != nil {
				return false, fmt.Errorf("upsert meter current: %w", err)
			}
			if err := w.InsertMeterHistory(ctx, history); err != nil {
				return false, fmt.Errorf("insert meter history: %w", err)
			}
			return applied, nil
		}
		msgType, update, label = ws.MsgTypeMeterUpdate, current, "Meter"

	case models.VehicleReading:
		current := &models.VehicleCurrent{
			VehicleID:      r.VehicleID,
			SOC:            r.SOC,
			KwhDeliveredDC: r.KwhDeliveredDC,
			BatteryTemp:    r.BatteryTemp,
			LastUpdated:    r.Timestamp,
		}
		history := &models.VehicleHistory{
			VehicleID:      r.VehicleID,
			SOC:            r.SOC,
			KwhDeliveredDC: r.KwhDeliveredDC,
			BatteryTemp:    r.BatteryTemp,
			Timestamp:      r.Timestamp,
			ReceivedAt:     receivedAt,
		}
		write = func(w repository.TelemetryWriter) (bool, error) {
			applied, err := w.UpsertVehicleCurrent(ctx, current, s.skipStale)
			if err != nil {
				return false, fmt.Errorf("upsert vehicle current: %w", err)
			}
			if err := w.InsertVehicleHistory(ctx, history); err != nil {
				return false, fmt.Errorf("insert vehicle history: %w", err)
			}
			return applied, nil
		}
		msgType, update, label = ws.MsgTypeVehicleUpdate, current, "Vehicle"

	default:
		return nil, models.Validationf("unsupported telemetry record %T", rec)
	}

	kind := string(rec.Kind())
	var applied bool
	err := s.store.WithinTx(ctx, func(w repository.TelemetryWriter) error {
		var err error
		applied, err = write(w)
		return err
	})
	if err != nil {
		s.metrics.ObserveIngest(kind, metrics.OutcomeError, started)
		s.logger.Error("Failed to ingest telemetry",
			zap.String("kind", kind),
			zap.String("device_id", rec.DeviceID()),
			zap.Time("timestamp", rec.EventTime()),
			zap.Error(err))
		return nil, models.NewStorageError("ingest "+kind, err)
	}

	outcome := metrics.OutcomeOK
	if !applied {
		outcome = metrics.OutcomeStale
		s.logger.Debug("Stale reading kept in history only",
			zap.String("kind", kind),
			zap.String("device_id", rec.DeviceID()),
			zap.Time("timestamp", rec.EventTime()))
	}
	s.metrics.ObserveIngest(kind, outcome, started)

	if applied && s.notifier != nil {
		s.notifier.Publish(msgType, rec.DeviceID(), update)
	}

	return &IngestResult{
		Success:        true,
		DeviceID:       rec.DeviceID(),
		Message:        fmt.Sprintf("%s telemetry processed for %s", label, rec.DeviceID()),
		CurrentApplied: applied,
	}, nil
}

// IngestBatch 并发写入多条记录，每条记录独立提交，单条失败不影响其他记录
func (s *IngestionService) IngestBatch(ctx context.Context, records []models.TelemetryRecord) BatchResult {
	errs := make([]error, len(records))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if _, err := s.Ingest(ctx, rec); err != nil {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, err := range errs {
		if err == nil {
			res.SuccessCount++
			continue
		}
		res.FailedCount++
		if res.FirstError == nil {
			res.FirstError = fmt.Errorf("record %d: %w", i, err)
		}
	}

	if res.FailedCount > 0 {
		s.logger.Warn("Batch ingestion finished with failures",
			zap.Int("success", res.SuccessCount),
			zap.Int("failed", res.FailedCount),
			zap.Error(res.FirstError))
	}
	return res
}
