package models

import (
	"sort"
	"time"
)

// PerformanceReport 车辆充电效率报告（按需计算，不落库）
type PerformanceReport struct {
	VehicleID         string    `json:"vehicleId"`
	WindowStart       time.Time `json:"windowStart"`
	WindowEnd         time.Time `json:"windowEnd"`
	TotalACConsumed   float64   `json:"totalAcConsumed"`
	TotalDCDelivered  float64   `json:"totalDcDelivered"`
	EfficiencyRatio   float64   `json:"efficiencyRatio"`
	EfficiencyPercent float64   `json:"efficiencyPercent"`
	AvgBatteryTemp    float64   `json:"avgBatteryTemp"`
	SampleCount       int64     `json:"sampleCount"`
	Warnings          []string  `json:"warnings"`
}

// FleetSummary 车队汇总
type FleetSummary struct {
	ActiveVehicleCount            int64     `json:"activeVehicleCount"`
	ActiveMeterCount              int64     `json:"activeMeterCount"`
	AverageFleetEfficiencyPercent float64   `json:"averageFleetEfficiencyPercent"`
	WindowStart                   time.Time `json:"windowStart"`
	WindowEnd                     time.Time `json:"windowEnd"`
	GeneratedAt                   time.Time `json:"generatedAt"`
}

// VehicleWindowStats 车辆历史在时间窗口内的聚合
type VehicleWindowStats struct {
	TotalDCDelivered float64
	AvgBatteryTemp   float64
	SampleCount      int64
}

// FleetEnergyTotals 全车队窗口内 AC/DC 总量
type FleetEnergyTotals struct {
	TotalACConsumed  float64
	TotalDCDelivered float64
}

// Window 闭区间 [Start, End]
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow 以 now 为终点构造时间窗口
func NewWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Intersect 求两个窗口的交集，无交集时 ok 为 false
func (w Window) Intersect(o Window) (Window, bool) {
	start, end := w.Start, w.End
	if o.Start.After(start) {
		start = o.Start
	}
	if o.End.Before(end) {
		end = o.End
	}
	if start.After(end) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// MergeWindows 合并重叠或首尾相接的闭区间，返回按开始时间排序、两两不相交的结果
func MergeWindows(ws []Window) []Window {
	if len(ws) == 0 {
		return nil
	}
	sorted := make([]Window, len(ws))
	copy(sorted, ws)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Window{sorted[0]}
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.Start.After(last.End) {
			merged = append(merged, w)
			continue
		}
		if w.End.After(last.End) {
			last.End = w.End
		}
	}
	return merged
}
