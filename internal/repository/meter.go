package repository

import (
	"context"
	"fmt"

	"github.com/langchou/chargegazer/internal/models"
)

// MeterRepository 电表数据仓库
type MeterRepository struct {
	q querier
}

// NewMeterRepository 创建电表仓库
func NewMeterRepository(db *DB) *MeterRepository {
	return &MeterRepository{q: db.Pool}
}

// UpsertMeterCurrent 写入电表最新状态
// skipStale 为 true 时，事件时间早于已存 last_updated 的读数不覆盖，返回 false
func (r *MeterRepository) UpsertMeterCurrent(ctx context.Context, c *models.MeterCurrent, skipStale bool) (bool, error) {
	query := `
		INSERT INTO meter_current (meter_id, kwh_consumed_ac, voltage, last_updated, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (meter_id) DO UPDATE SET
			kwh_consumed_ac = EXCLUDED.kwh_consumed_ac,
			voltage = EXCLUDED.voltage,
			last_updated = EXCLUDED.last_updated
		WHERE NOT $5::boolean OR meter_current.last_updated <= EXCLUDED.last_updated
	`
	tag, err := r.q.Exec(ctx, query,
		c.MeterID,
		c.KwhConsumedAC,
		c.Voltage,
		c.LastUpdated,
		skipStale,
	)
	if err != nil {
		return false, fmt.Errorf("upsert meter current: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertMeterHistory 追加电表历史记录
func (r *MeterRepository) InsertMeterHistory(ctx context.Context, h *models.MeterHistory) error {
	query := `
		INSERT INTO meter_history (meter_id, kwh_consumed_ac, voltage, timestamp, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		h.MeterID,
		h.KwhConsumedAC,
		h.Voltage,
		h.Timestamp,
		h.ReceivedAt,
	).Scan(&h.ID)

	if err != nil {
		return fmt.Errorf("insert meter history: %w", err)
	}
	return nil
}

// GetMeterCurrent 获取电表最新状态
func (r *MeterRepository) GetMeterCurrent(ctx context.Context, meterID string) (*models.MeterCurrent, error) {
	query := `
		SELECT meter_id, kwh_consumed_ac, voltage, last_updated
		FROM meter_current WHERE meter_id = $1
	`
	c := &models.MeterCurrent{}
	err := r.q.QueryRow(ctx, query, meterID).Scan(
		&c.MeterID,
		&c.KwhConsumedAC,
		&c.Voltage,
		&c.LastUpdated,
	)
	if err != nil {
		return nil, notFound(err, "get meter current %s", meterID)
	}
	return c, nil
}
