package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/chargegazer/internal/metrics"
	"github.com/langchou/chargegazer/internal/models"
)

// AnalyticsStore 窗口聚合查询
type AnalyticsStore interface {
	VehicleWindowStats(ctx context.Context, vehicleID string, w models.Window) (models.VehicleWindowStats, error)
	MeterACTotal(ctx context.Context, meterID string, w models.Window) (float64, error)
	CountActiveVehicles(ctx context.Context, w models.Window) (int64, error)
	CountActiveMeters(ctx context.Context, w models.Window) (int64, error)
	FleetEnergyTotals(ctx context.Context, w models.Window) (models.FleetEnergyTotals, error)
}

// VehicleStatusStore 车辆当前状态与最近历史
type VehicleStatusStore interface {
	GetVehicleCurrent(ctx context.Context, vehicleID string) (*models.VehicleCurrent, error)
	GetLatestVehicleHistory(ctx context.Context, vehicleID string) (*models.VehicleHistory, error)
}

// MeterStatusStore 电表当前状态
type MeterStatusStore interface {
	GetMeterCurrent(ctx context.Context, meterID string) (*models.MeterCurrent, error)
}

// PairingLookup 查询与窗口重叠的配对
type PairingLookup interface {
	ListOverlapping(ctx context.Context, vehicleID string, w models.Window) ([]*models.ChargePairing, error)
}

// FleetCache 车队汇总缓存
type FleetCache interface {
	Get(ctx context.Context, window time.Duration) (*models.FleetSummary, bool, error)
	Set(ctx context.Context, window time.Duration, summary *models.FleetSummary) error
}

// AnalyticsService 效率分析服务，报告按需从历史表计算
type AnalyticsService struct {
	logger        *zap.Logger
	stats         AnalyticsStore
	vehicles      VehicleStatusStore
	meters        MeterStatusStore
	pairings      PairingLookup
	cache         FleetCache
	metrics       *metrics.Metrics
	defaultWindow time.Duration
	now           func() time.Time
}

// NewAnalyticsService 创建分析服务；pairings 为 nil 时按 meterId == vehicleId 关联，cache 为 nil 时不缓存
func NewAnalyticsService(
	logger *zap.Logger,
	stats AnalyticsStore,
	vehicles VehicleStatusStore,
	meters MeterStatusStore,
	pairings PairingLookup,
	cache FleetCache,
	m *metrics.Metrics,
	defaultWindow time.Duration,
) *AnalyticsService {
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	return &AnalyticsService{
		logger:        logger,
		stats:         stats,
		vehicles:      vehicles,
		meters:        meters,
		pairings:      pairings,
		cache:         cache,
		metrics:       m,
		defaultWindow: defaultWindow,
		now:           time.Now,
	}
}

// DefaultWindow 默认分析窗口
func (s *AnalyticsService) DefaultWindow() time.Duration {
	return s.defaultWindow
}

// GetPerformance 计算车辆在 [now-window, now] 内的效率报告
// window <= 0 使用默认窗口，now 为零值时取当前时间
func (s *AnalyticsService) GetPerformance(ctx context.Context, vehicleID string, window time.Duration, now time.Time) (report *models.PerformanceReport, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveAnalytics("performance", started, err) }()

	if vehicleID == "" {
		return nil, models.Validationf("vehicleId must not be empty")
	}
	w := s.window(window, now)

	stats, err := s.stats.VehicleWindowStats(ctx, vehicleID, w)
	if err != nil {
		return nil, models.NewStorageError("vehicle window stats", err)
	}
	if stats.SampleCount == 0 {
		return nil, fmt.Errorf("no data for vehicle %s between %s and %s: %w",
			vehicleID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), models.ErrNotFound)
	}

	totalAC, totalDC, err := s.correlate(ctx, vehicleID, w, stats.TotalDCDelivered)
	if err != nil {
		return nil, err
	}
	stats.TotalDCDelivered = totalDC

	report = buildReport(vehicleID, w, stats, totalAC)
	s.logger.Debug("Performance report generated",
		zap.String("vehicle_id", vehicleID),
		zap.Int64("samples", report.SampleCount),
		zap.Float64("efficiency_percent", report.EfficiencyPercent),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// correlate 窗口内与车辆关联的 AC/DC 总量
// 无重叠配对时用同名电表和整个窗口的 DC；有配对时 AC 按电表合并配对时段后累加，DC 只统计配对覆盖的时段
func (s *AnalyticsService) correlate(ctx context.Context, vehicleID string, w models.Window, windowDC float64) (ac, dc float64, err error) {
	var pairings []*models.ChargePairing
	if s.pairings != nil {
		pairings, err = s.pairings.ListOverlapping(ctx, vehicleID, w)
		if err != nil {
			return 0, 0, models.NewStorageError("list overlapping pairings", err)
		}
	}

	if len(pairings) == 0 {
		ac, err = s.stats.MeterACTotal(ctx, vehicleID, w)
		if err != nil {
			return 0, 0, models.NewStorageError("meter ac total", err)
		}
		return ac, windowDC, nil
	}

	var (
		covered []models.Window
		meters  []string
	)
	byMeter := make(map[string][]models.Window)
	for _, p := range pairings {
		span, ok := p.Range(w.End).Intersect(w)
		if !ok {
			continue
		}
		if _, seen := byMeter[p.MeterID]; !seen {
			meters = append(meters, p.MeterID)
		}
		covered = append(covered, span)
		byMeter[p.MeterID] = append(byMeter[p.MeterID], span)
	}

	// 同一电表的时段先合并，重叠或相接的配对不会重复计入同一读数
	for _, meterID := range meters {
		for _, span := range models.MergeWindows(byMeter[meterID]) {
			total, err := s.stats.MeterACTotal(ctx, meterID, span)
			if err != nil {
				return 0, 0, models.NewStorageError("meter ac total", err)
			}
			ac += total
		}
	}

	for _, span := range models.MergeWindows(covered) {
		st, err := s.stats.VehicleWindowStats(ctx, vehicleID, span)
		if err != nil {
			return 0, 0, models.NewStorageError("vehicle window stats", err)
		}
		dc += st.TotalDCDelivered
	}

	s.logger.Debug("Energy correlated through pairings",
		zap.String("vehicle_id", vehicleID),
		zap.Int("pairings", len(pairings)),
		zap.Int("meters", len(meters)),
		zap.Float64("window_dc", windowDC),
		zap.Float64("paired_dc", dc))
	return ac, dc, nil
}

// GetCurrentStatus 车辆最新状态
func (s *AnalyticsService) GetCurrentStatus(ctx context.Context, vehicleID string) (cur *models.VehicleCurrent, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveAnalytics("vehicle_status", started, err) }()

	if vehicleID == "" {
		return nil, models.Validationf("vehicleId must not be empty")
	}
	cur, err = s.vehicles.GetVehicleCurrent(ctx, vehicleID)
	if err != nil {
		return nil, models.NewStorageError("get vehicle current", err)
	}
	return cur, nil
}

// GetMeterStatus 电表最新状态
func (s *AnalyticsService) GetMeterStatus(ctx context.Context, meterID string) (cur *models.MeterCurrent, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveAnalytics("meter_status", started, err) }()

	if meterID == "" {
		return nil, models.Validationf("meterId must not be empty")
	}
	cur, err = s.meters.GetMeterCurrent(ctx, meterID)
	if err != nil {
		return nil, models.NewStorageError("get meter current", err)
	}
	return cur, nil
}

// GetLatestVehicleReading 事件时间最新的历史读数
func (s *AnalyticsService) GetLatestVehicleReading(ctx context.Context, vehicleID string) (h *models.VehicleHistory, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveAnalytics("latest_reading", started, err) }()

	if vehicleID == "" {
		return nil, models.Validationf("vehicleId must not be empty")
	}
	h, err = s.vehicles.GetLatestVehicleHistory(ctx, vehicleID)
	if err != nil {
		return nil, models.NewStorageError("get latest vehicle history", err)
	}
	return h, nil
}

// GetFleetSummary 车队汇总，三个聚合并发查询
// 仅在 now 为零值（实时查询）时读写缓存
func (s *AnalyticsService) GetFleetSummary(ctx context.Context, window time.Duration, now time.Time) (summary *models.FleetSummary, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveAnalytics("fleet_summary", started, err) }()

	if window <= 0 {
		window = s.defaultWindow
	}
	useCache := s.cache != nil && now.IsZero()

	if useCache {
		cached, ok, cerr := s.cache.Get(ctx, window)
		if cerr != nil {
			s.logger.Warn("Fleet summary cache read failed", zap.Error(cerr))
		} else if ok {
			return cached, nil
		}
	}

	w := s.window(window, now)

	var (
		vehicles int64
		meters   int64
		totals   models.FleetEnergyTotals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.stats.CountActiveVehicles(gctx, w)
		if err != nil {
			return fmt.Errorf("count active vehicles: %w", err)
		}
		vehicles = n
		return nil
	})
	g.Go(func() error {
		n, err := s.stats.CountActiveMeters(gctx, w)
		if err != nil {
			return fmt.Errorf("count active meters: %w", err)
		}
		meters = n
		return nil
	})
	g.Go(func() error {
		t, err := s.stats.FleetEnergyTotals(gctx, w)
		if err != nil {
			return fmt.Errorf("fleet energy totals: %w", err)
		}
		totals = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, models.NewStorageError("fleet summary", err)
	}

	summary = &models.FleetSummary{
		ActiveVehicleCount:            vehicles,
		ActiveMeterCount:              meters,
		AverageFleetEfficiencyPercent: fleetEfficiencyPercent(totals),
		WindowStart:                   w.Start,
		WindowEnd:                     w.End,
		GeneratedAt:                   s.now().UTC(),
	}

	if useCache {
		if cerr := s.cache.Set(ctx, window, summary); cerr != nil {
			s.logger.Warn("Fleet summary cache write failed", zap.Error(cerr))
		}
	}
	return summary, nil
}

func (s *AnalyticsService) window(d time.Duration, now time.Time) models.Window {
	if d <= 0 {
		d = s.defaultWindow
	}
	if now.IsZero() {
		now = s.now()
	}
	return models.NewWindow(now.UTC(), d)
}
