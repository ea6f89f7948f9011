package repository

import (
	"context"
	"fmt"

	"github.com/langchou/chargegazer/internal/models"
)

// AnalyticsRepository 历史表窗口聚合查询
// 所有窗口均为闭区间，依赖 (device_id, timestamp) 与 (timestamp) 索引
type AnalyticsRepository struct {
	q querier
}

// NewAnalyticsRepository 创建聚合查询仓库
func NewAnalyticsRepository(db *DB) *AnalyticsRepository {
	return &AnalyticsRepository{q: db.Pool}
}

// VehicleWindowStats 车辆窗口内 DC 总量、平均电池温度与样本数
func (r *AnalyticsRepository) VehicleWindowStats(ctx context.Context, vehicleID string, w models.Window) (models.VehicleWindowStats, error) {
	query := `
		SELECT COALESCE(SUM(kwh_delivered_dc), 0), COALESCE(AVG(battery_temp), 0), COUNT(*)
		FROM vehicle_history
		WHERE vehicle_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`
	var stats models.VehicleWindowStats
	err := r.q.QueryRow(ctx, query, vehicleID, w.Start, w.End).Scan(
		&stats.TotalDCDelivered,
		&stats.AvgBatteryTemp,
		&stats.SampleCount,
	)
	if err != nil {
		return models.VehicleWindowStats{}, fmt.Errorf("aggregate vehicle history: %w", err)
	}
	return stats, nil
}

// MeterACTotal 电表窗口内 AC 总量
func (r *AnalyticsRepository) MeterACTotal(ctx context.Context, meterID string, w models.Window) (float64, error) {
	query := `
		SELECT COALESCE(SUM(kwh_consumed_ac), 0)
		FROM meter_history
		WHERE meter_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`
	var total float64
	if err := r.q.QueryRow(ctx, query, meterID, w.Start, w.End).Scan(&total); err != nil {
		return 0, fmt.Errorf("aggregate meter history: %w", err)
	}
	return total, nil
}

// CountActiveVehicles 窗口内有历史记录的车辆数
func (r *AnalyticsRepository) CountActiveVehicles(ctx context.Context, w models.Window) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(DISTINCT vehicle_id) FROM vehicle_history WHERE timestamp >= $1 AND timestamp <= $2`,
		w.Start, w.End,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active vehicles: %w", err)
	}
	return count, nil
}

// CountActiveMeters 窗口内有历史记录的电表数
func (r *AnalyticsRepository) CountActiveMeters(ctx context.Context, w models.Window) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(DISTINCT meter_id) FROM meter_history WHERE timestamp >= $1 AND timestamp <= $2`,
		w.Start, w.End,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active meters: %w", err)
	}
	return count, nil
}

// FleetEnergyTotals 全车队窗口内 AC 与 DC 总量（一次往返）
func (r *AnalyticsRepository) FleetEnergyTotals(ctx context.Context, w models.Window) (models.FleetEnergyTotals, error) {
	query := `
		SELECT
			(SELECT COALESCE(SUM(kwh_consumed_ac), 0) FROM meter_history WHERE timestamp >= $1 AND timestamp <= $2),
			(SELECT COALESCE(SUM(kwh_delivered_dc), 0) FROM vehicle_history WHERE timestamp >= $1 AND timestamp <= $2)
	`
	var totals models.FleetEnergyTotals
	err := r.q.QueryRow(ctx, query, w.Start, w.End).Scan(&totals.TotalACConsumed, &totals.TotalDCDelivered)
	if err != nil {
		return models.FleetEnergyTotals{}, fmt.Errorf("aggregate fleet energy: %w", err)
	}
	return totals, nil
}
