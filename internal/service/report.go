package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/langchou/chargegazer/internal/models"
)

// 报告阈值
const (
	EfficiencyThresholdPercent = 85.0
	EfficiencyThreshold        = EfficiencyThresholdPercent / 100
	HighBatteryTemp            = 45.0
	LowBatteryTemp             = 0.0
)

// 输出精度
const (
	energyPlaces  = 4
	ratioPlaces   = 4
	percentPlaces = 2
	tempPlaces    = 2
)

// buildReport 根据未取整的聚合值生成报告，取整只发生在最后一步
func buildReport(vehicleID string, w models.Window, stats models.VehicleWindowStats, totalAC float64) *models.PerformanceReport {
	totalDC := stats.TotalDCDelivered
	ratio, percent := efficiency(totalDC, totalAC)
	below := ratio < EfficiencyThreshold

	displayPercent := roundKeepingSide(percent, percentPlaces, EfficiencyThresholdPercent, below)

	return &models.PerformanceReport{
		VehicleID:         vehicleID,
		WindowStart:       w.Start,
		WindowEnd:         w.End,
		TotalACConsumed:   round(totalAC, energyPlaces),
		TotalDCDelivered:  round(totalDC, energyPlaces),
		EfficiencyRatio:   roundKeepingSide(ratio, ratioPlaces, EfficiencyThreshold, below),
		EfficiencyPercent: displayPercent,
		AvgBatteryTemp:    round(stats.AvgBatteryTemp, tempPlaces),
		SampleCount:       stats.SampleCount,
		Warnings:          evaluateWarnings(below, displayPercent, stats.AvgBatteryTemp, totalAC, totalDC),
	}
}

// efficiency 未取整的 DC/AC 比值与百分比，AC 为 0 时均为 0
func efficiency(totalDC, totalAC float64) (ratio, percent float64) {
	if totalAC <= 0 {
		return 0, 0
	}
	ratio = totalDC / totalAC
	return ratio, ratio * 100
}

// evaluateWarnings 顺序固定：低效率、温度（高/低互斥）、数据异常
func evaluateWarnings(lowEfficiency bool, displayPercent, avgTemp, totalAC, totalDC float64) []string {
	warnings := []string{}

	if lowEfficiency {
		warnings = append(warnings, fmt.Sprintf(
			"Low efficiency detected: %s%% (below %s%% threshold). Possible hardware fault or energy leakage.",
			fixed(displayPercent, percentPlaces),
			decimal.NewFromFloat(EfficiencyThresholdPercent).String(),
		))
	}

	if avgTemp > HighBatteryTemp {
		warnings = append(warnings, fmt.Sprintf("High battery temperature: %s°C. Monitor for thermal issues.", fixed(avgTemp, tempPlaces)))
	} else if avgTemp < LowBatteryTemp {
		warnings = append(warnings, fmt.Sprintf("Low battery temperature: %s°C. Cold weather may affect performance.", fixed(avgTemp, tempPlaces)))
	}

	if totalAC < totalDC {
		warnings = append(warnings, "Anomaly: DC delivered exceeds AC consumed. Check meter-vehicle correlation or data integrity.")
	}

	return warnings
}

// fleetEfficiencyPercent 车队效率 SUM(DC)/SUM(AC)*100，AC 为 0 时为 0
func fleetEfficiencyPercent(t models.FleetEnergyTotals) float64 {
	if t.TotalACConsumed <= 0 {
		return 0
	}
	return round(t.TotalDCDelivered/t.TotalACConsumed*100, percentPlaces)
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// roundKeepingSide 四舍五入，但结果与原值保持在阈值的同一侧
func roundKeepingSide(v float64, places int32, threshold float64, below bool) float64 {
	r := decimal.NewFromFloat(v).Round(places)
	t := decimal.NewFromFloat(threshold)

	switch {
	case below && r.GreaterThanOrEqual(t):
		r = t.Sub(decimal.New(1, -places))
	case !below && r.LessThan(t):
		r = t
	}
	return r.InexactFloat64()
}
