package models

import "time"

// VehicleCurrent 车辆最新状态（热表）
type VehicleCurrent struct {
	VehicleID      string    `json:"vehicleId" db:"vehicle_id"`
	SOC            float64   `json:"soc" db:"soc"` // 0-100
	KwhDeliveredDC float64   `json:"kwhDeliveredDc" db:"kwh_delivered_dc"`
	BatteryTemp    float64   `json:"batteryTemp" db:"battery_temp"`
	LastUpdated    time.Time `json:"lastUpdated" db:"last_updated"`
}

// VehicleHistory 车辆历史读数（冷表）
type VehicleHistory struct {
	ID             int64     `json:"id" db:"id"`
	VehicleID      string    `json:"vehicleId" db:"vehicle_id"`
	SOC            float64   `json:"soc" db:"soc"`
	KwhDeliveredDC float64   `json:"kwhDeliveredDc" db:"kwh_delivered_dc"`
	BatteryTemp    float64   `json:"batteryTemp" db:"battery_temp"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	ReceivedAt     time.Time `json:"receivedAt" db:"received_at"`
}
