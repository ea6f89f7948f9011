package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/chargegazer/internal/models"
)

// PairingRepository 充电配对仓库
type PairingRepository struct {
	q querier
}

// NewPairingRepository 创建配对仓库
func NewPairingRepository(db *DB) *PairingRepository {
	return &PairingRepository{q: db.Pool}
}

const pairingColumns = `id, vehicle_id, meter_id, started_at, ended_at, status`

// Create 创建配对；车辆已有进行中的配对，或开始时间早于已结束配对的 ended_at 时返回 ErrConflict
func (r *PairingRepository) Create(ctx context.Context, p *models.ChargePairing) error {
	query := `
		INSERT INTO charge_pairings (vehicle_id, meter_id, started_at, status)
		SELECT $1::varchar, $2::varchar, $3::timestamptz, $4::varchar
		WHERE NOT EXISTS (
			SELECT 1 FROM charge_pairings
			WHERE vehicle_id = $1::varchar AND ended_at > $3::timestamptz
		)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		p.VehicleID,
		p.MeterID,
		p.StartedAt,
		p.Status,
	).Scan(&p.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vehicle %s already has an active pairing: %w", p.VehicleID, models.ErrConflict)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("pairing for vehicle %s at %s overlaps an ended pairing: %w",
				p.VehicleID, p.StartedAt.Format(time.RFC3339), models.ErrConflict)
		}
		return fmt.Errorf("insert charge pairing: %w", err)
	}
	return nil
}

// GetByID 获取配对
func (r *PairingRepository) GetByID(ctx context.Context, id int64) (*models.ChargePairing, error) {
	query := `SELECT ` + pairingColumns + ` FROM charge_pairings WHERE id = $1`
	p := &models.ChargePairing{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.VehicleID,
		&p.MeterID,
		&p.StartedAt,
		&p.EndedAt,
		&p.Status,
	)
	if err != nil {
		return nil, notFound(err, "get charge pairing %d", id)
	}
	return p, nil
}

// Close 结束进行中的配对；并发下已被关闭时返回 ErrConflict
func (r *PairingRepository) Close(ctx context.Context, id int64, endedAt time.Time) error {
	query := `
		UPDATE charge_pairings SET status = $2, ended_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.q.Exec(ctx, query, id, models.PairingClosed, endedAt, models.PairingActive)
	if err != nil {
		return fmt.Errorf("close charge pairing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pairing %d is not active: %w", id, models.ErrConflict)
	}
	return nil
}

// ListByVehicle 车辆的配对列表（最新在前）
func (r *PairingRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]*models.ChargePairing, error) {
	query := `SELECT ` + pairingColumns + ` FROM charge_pairings WHERE vehicle_id = $1 ORDER BY started_at DESC`
	return r.list(ctx, query, vehicleID)
}

// ListOverlapping 与窗口有交集的配对（按开始时间升序）
func (r *PairingRepository) ListOverlapping(ctx context.Context, vehicleID string, w models.Window) ([]*models.ChargePairing, error) {
	query := `SELECT ` + pairingColumns + ` FROM charge_pairings
		WHERE vehicle_id = $1 AND started_at <= $3 AND (ended_at IS NULL OR ended_at >= $2)
		ORDER BY started_at`
	return r.list(ctx, query, vehicleID, w.Start, w.End)
}

func (r *PairingRepository) list(ctx context.Context, query string, args ...any) ([]*models.ChargePairing, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list charge pairings: %w", err)
	}
	defer rows.Close()

	var pairings []*models.ChargePairing
	for rows.Next() {
		p := &models.ChargePairing{}
		err := rows.Scan(
			&p.ID,
			&p.VehicleID,
			&p.MeterID,
			&p.StartedAt,
			&p.EndedAt,
			&p.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan charge pairing: %w", err)
		}
		pairings = append(pairings, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate charge pairings: %w", err)
	}
	return pairings, nil
}
