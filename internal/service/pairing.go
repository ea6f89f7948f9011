package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/internal/state"
)

// PairingStore 配对持久化
type PairingStore interface {
	Create(ctx context.Context, p *models.ChargePairing) error
	GetByID(ctx context.Context, id int64) (*models.ChargePairing, error)
	Close(ctx context.Context, id int64, endedAt time.Time) error
	ListByVehicle(ctx context.Context, vehicleID string) ([]*models.ChargePairing, error)
}

// PairingService 车辆与电表的充电配对管理
type PairingService struct {
	logger *zap.Logger
	store  PairingStore
	now    func() time.Time
}

// NewPairingService 创建配对服务
func NewPairingService(logger *zap.Logger, store PairingStore) *PairingService {
	return &PairingService{
		logger: logger,
		store:  store,
		now:    time.Now,
	}
}

// OpenPairing 开始配对，startedAt 为零值时取当前时间
// 车辆已有进行中的配对，或 startedAt 早于已结束配对的 endedAt 时返回 ErrConflict
func (s *PairingService) OpenPairing(ctx context.Context, vehicleID, meterID string, startedAt time.Time) (*models.ChargePairing, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	meterID = strings.TrimSpace(meterID)
	if vehicleID == "" {
		return nil, models.Validationf("vehicleId must not be empty")
	}
	if meterID == "" {
		return nil, models.Validationf("meterId must not be empty")
	}
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	startedAt = startedAt.UTC()

	existing, err := s.store.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, models.NewStorageError("list pairings", err)
	}
	for _, prev := range existing {
		if prev.EndedAt != nil && prev.EndedAt.After(startedAt) {
			return nil, fmt.Errorf("startedAt %s overlaps pairing %d ended at %s: %w",
				startedAt.Format(time.RFC3339), prev.ID, prev.EndedAt.Format(time.RFC3339), models.ErrConflict)
		}
	}

	p := &models.ChargePairing{
		VehicleID: vehicleID,
		MeterID:   meterID,
		StartedAt: startedAt,
		Status:    models.PairingActive,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, models.NewStorageError("create pairing", err)
	}

	s.logger.Info("Charge pairing opened",
		zap.Int64("pairing_id", p.ID),
		zap.String("vehicle_id", vehicleID),
		zap.String("meter_id", meterID),
		zap.Time("started_at", p.StartedAt))
	return p, nil
}

// ClosePairing 结束配对，endedAt 为零值时取当前时间
func (s *PairingService) ClosePairing(ctx context.Context, id int64, endedAt time.Time) (*models.ChargePairing, error) {
	if id <= 0 {
		return nil, models.Validationf("invalid pairing id %d", id)
	}

	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, models.NewStorageError("get pairing", err)
	}

	if endedAt.IsZero() {
		endedAt = s.now()
	}
	endedAt = endedAt.UTC()
	if endedAt.Before(p.StartedAt) {
		return nil, models.Validationf("endedAt %s is before startedAt %s",
			endedAt.Format(time.RFC3339), p.StartedAt.Format(time.RFC3339))
	}

	m := state.NewMachine(p, s.onStateChange)
	if err := m.Trigger(ctx, state.EventClose); err != nil {
		return nil, err
	}

	if err := s.store.Close(ctx, id, endedAt); err != nil {
		return nil, models.NewStorageError("close pairing", err)
	}

	p.Status = m.Current()
	p.EndedAt = &endedAt
	return p, nil
}

// ListPairings 车辆的配对历史
func (s *PairingService) ListPairings(ctx context.Context, vehicleID string) ([]*models.ChargePairing, error) {
	if strings.TrimSpace(vehicleID) == "" {
		return nil, models.Validationf("vehicleId must not be empty")
	}
	pairings, err := s.store.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, models.NewStorageError("list pairings", err)
	}
	if pairings == nil {
		pairings = []*models.ChargePairing{}
	}
	return pairings, nil
}

func (s *PairingService) onStateChange(pairingID int64, from, to string) {
	s.logger.Info("Charge pairing state changed",
		zap.Int64("pairing_id", pairingID),
		zap.String("from", from),
		zap.String("to", to))
}
