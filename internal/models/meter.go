package models

import "time"

// MeterCurrent 电表最新状态（热表，每个 meter_id 一行）
type MeterCurrent struct {
	MeterID       string    `json:"meterId" db:"meter_id"`
	KwhConsumedAC float64   `json:"kwhConsumedAc" db:"kwh_consumed_ac"`
	Voltage       float64   `json:"voltage" db:"voltage"`
	LastUpdated   time.Time `json:"lastUpdated" db:"last_updated"` // 最近一次被应用的读数的事件时间
}

// MeterHistory 电表历史读数（冷表，只追加）
type MeterHistory struct {
	ID            int64     `json:"id" db:"id"`
	MeterID       string    `json:"meterId" db:"meter_id"`
	KwhConsumedAC float64   `json:"kwhConsumedAc" db:"kwh_consumed_ac"`
	Voltage       float64   `json:"voltage" db:"voltage"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	ReceivedAt    time.Time `json:"receivedAt" db:"received_at"`
}
