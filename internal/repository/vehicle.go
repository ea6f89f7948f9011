package repository

import (
	"context"
	"fmt"

	"github.com/langchou/chargegazer/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	q querier
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{q: db.Pool}
}

// UpsertVehicleCurrent 写入车辆最新状态，语义同 UpsertMeterCurrent
func (r *VehicleRepository) UpsertVehicleCurrent(ctx context.Context, c *models.VehicleCurrent, skipStale bool) (bool, error) {
	query := `
		INSERT INTO vehicle_current (vehicle_id, soc, kwh_delivered_dc, battery_temp, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (vehicle_id) DO UPDATE SET
			soc = EXCLUDED.soc,
			kwh_delivered_dc = EXCLUDED.kwh_delivered_dc,
			battery_temp = EXCLUDED.battery_temp,
			last_updated = EXCLUDED.last_updated
		WHERE NOT $6::boolean OR vehicle_current.last_updated <= EXCLUDED.last_updated
	`
	tag, err := r.q.Exec(ctx, query,
		c.VehicleID,
		c.SOC,
		c.KwhDeliveredDC,
		c.BatteryTemp,
		c.LastUpdated,
		skipStale,
	)
	if err != nil {
		return false, fmt.Errorf("upsert vehicle current: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertVehicleHistory 追加车辆历史记录
func (r *VehicleRepository) InsertVehicleHistory(ctx context.Context, h *models.VehicleHistory) error {
	query := `
		INSERT INTO vehicle_history (vehicle_id, soc, kwh_delivered_dc, battery_temp, timestamp, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		h.VehicleID,
		h.SOC,
		h.KwhDeliveredDC,
		h.BatteryTemp,
		h.Timestamp,
		h.ReceivedAt,
	).Scan(&h.ID)

	if err != nil {
		return fmt.Errorf("insert vehicle history: %w", err)
	}
	return nil
}

// GetVehicleCurrent 获取车辆最新状态
func (r *VehicleRepository) GetVehicleCurrent(ctx context.Context, vehicleID string) (*models.VehicleCurrent, error) {
	query := `
		SELECT vehicle_id, soc, kwh_delivered_dc, battery_temp, last_updated
		FROM vehicle_current WHERE vehicle_id = $1
	`
	c := &models.VehicleCurrent{}
	err := r.q.QueryRow(ctx, query, vehicleID).Scan(
		&c.VehicleID,
		&c.SOC,
		&c.KwhDeliveredDC,
		&c.BatteryTemp,
		&c.LastUpdated,
	)
	if err != nil {
		return nil, notFound(err, "get vehicle current %s", vehicleID)
	}
	return c, nil
}

// GetLatestVehicleHistory 获取车辆按事件时间最新的一条历史记录
func (r *VehicleRepository) GetLatestVehicleHistory(ctx context.Context, vehicleID string) (*models.VehicleHistory, error) {
	query := `
		SELECT id, vehicle_id, soc, kwh_delivered_dc, battery_temp, timestamp, received_at
		FROM vehicle_history WHERE vehicle_id = $1 ORDER BY timestamp DESC LIMIT 1
	`
	h := &models.VehicleHistory{}
	err := r.q.QueryRow(ctx, query, vehicleID).Scan(
		&h.ID,
		&h.VehicleID,
		&h.SOC,
		&h.KwhDeliveredDC,
		&h.BatteryTemp,
		&h.Timestamp,
		&h.ReceivedAt,
	)
	if err != nil {
		return nil, notFound(err, "get latest vehicle history %s", vehicleID)
	}
	return h, nil
}
