package models

import "time"

// 配对状态
const (
	PairingActive = "active"
	PairingClosed = "closed"
)

// ChargePairing 充电配对：在 [StartedAt, EndedAt] 内车辆 DC 读数与电表 AC 读数相关联
type ChargePairing struct {
	ID        int64      `json:"id" db:"id"`
	VehicleID string     `json:"vehicleId" db:"vehicle_id"`
	MeterID   string     `json:"meterId" db:"meter_id"`
	StartedAt time.Time  `json:"startedAt" db:"started_at"`
	EndedAt   *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Status    string     `json:"status" db:"status"`
}

// Range 配对覆盖的时间段，进行中的配对以 openEnd 作为终点
func (p *ChargePairing) Range(openEnd time.Time) Window {
	end := openEnd
	if p.EndedAt != nil {
		end = *p.EndedAt
	}
	return Window{Start: p.StartedAt, End: end}
}

// PairingRequest 创建配对请求
type PairingRequest struct {
	VehicleID string `json:"vehicleId" binding:"required"`
	MeterID   string `json:"meterId" binding:"required"`
	StartedAt string `json:"startedAt"`
}

// ClosePairingRequest 关闭配对请求
type ClosePairingRequest struct {
	EndedAt string `json:"endedAt"`
}
