package models

import (
	"math"
	"strings"
	"time"
)

// DeviceKind 设备类型
type DeviceKind string

const (
	KindMeter   DeviceKind = "meter"
	KindVehicle DeviceKind = "vehicle"
)

// TelemetryRecord 已校验的遥测记录（MeterReading 或 VehicleReading）
type TelemetryRecord interface {
	DeviceID() string
	Kind() DeviceKind
	EventTime() time.Time
}

// MeterReading 电表读数（AC 侧）
type MeterReading struct {
	MeterID       string
	KwhConsumedAC float64
	Voltage       float64
	Timestamp     time.Time
}

func (r MeterReading) DeviceID() string     { return r.MeterID }
func (r MeterReading) Kind() DeviceKind     { return KindMeter }
func (r MeterReading) EventTime() time.Time { return r.Timestamp }

// VehicleReading 车辆读数（DC 侧）
type VehicleReading struct {
	VehicleID      string
	SOC            float64
	KwhDeliveredDC float64
	BatteryTemp    float64
	Timestamp      time.Time
}

func (r VehicleReading) DeviceID() string     { return r.VehicleID }
func (r VehicleReading) Kind() DeviceKind     { return KindVehicle }
func (r VehicleReading) EventTime() time.Time { return r.Timestamp }

// MeterTelemetry 电表上报载荷（HTTP / Kafka 共用）
type MeterTelemetry struct {
	MeterID       string   `json:"meterId" binding:"required"`
	KwhConsumedAC *float64 `json:"kwhConsumedAc" binding:"required,min=0"`
	Voltage       *float64 `json:"voltage" binding:"required,min=0"`
	Timestamp     string   `json:"timestamp" binding:"required"`
}

// ToReading 校验并转换为 MeterReading
func (p MeterTelemetry) ToReading() (MeterReading, error) {
	id := strings.TrimSpace(p.MeterID)
	if id == "" {
		return MeterReading{}, Validationf("meterId must not be empty")
	}
	if err := nonNegative("kwhConsumedAc", p.KwhConsumedAC); err != nil {
		return MeterReading{}, err
	}
	if err := nonNegative("voltage", p.Voltage); err != nil {
		return MeterReading{}, err
	}
	ts, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return MeterReading{}, err
	}
	return MeterReading{
		MeterID:       id,
		KwhConsumedAC: *p.KwhConsumedAC,
		Voltage:       *p.Voltage,
		Timestamp:     ts,
	}, nil
}

// VehicleTelemetry 车辆上报载荷
type VehicleTelemetry struct {
	VehicleID      string   `json:"vehicleId" binding:"required"`
	SOC            *float64 `json:"soc" binding:"required,min=0,max=100"`
	KwhDeliveredDC *float64 `json:"kwhDeliveredDc" binding:"required,min=0"`
	BatteryTemp    *float64 `json:"batteryTemp" binding:"required"`
	Timestamp      string   `json:"timestamp" binding:"required"`
}

// ToReading 校验并转换为 VehicleReading
func (p VehicleTelemetry) ToReading() (VehicleReading, error) {
	id := strings.TrimSpace(p.VehicleID)
	if id == "" {
		return VehicleReading{}, Validationf("vehicleId must not be empty")
	}
	if err := nonNegative("soc", p.SOC); err != nil {
		return VehicleReading{}, err
	}
	if *p.SOC > 100 {
		return VehicleReading{}, Validationf("soc must be within [0, 100], got %v", *p.SOC)
	}
	if err := nonNegative("kwhDeliveredDc", p.KwhDeliveredDC); err != nil {
		return VehicleReading{}, err
	}
	if err := finite("batteryTemp", p.BatteryTemp); err != nil {
		return VehicleReading{}, err
	}
	ts, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return VehicleReading{}, err
	}
	return VehicleReading{
		VehicleID:      id,
		SOC:            *p.SOC,
		KwhDeliveredDC: *p.KwhDeliveredDC,
		BatteryTemp:    *p.BatteryTemp,
		Timestamp:      ts,
	}, nil
}

// 支持的 ISO-8601 时间格式，无时区按 UTC 处理
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp 解析 ISO-8601 时间字符串
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Validationf("timestamp must not be empty")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Validationf("timestamp %q is not ISO-8601", s)
}

func finite(field string, v *float64) error {
	if v == nil {
		return Validationf("%s is required", field)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Validationf("%s must be a finite number", field)
	}
	return nil
}

func nonNegative(field string, v *float64) error {
	if err := finite(field, v); err != nil {
		return err
	}
	if *v < 0 {
		return Validationf("%s must be >= 0, got %v", field, *v)
	}
	return nil
}
