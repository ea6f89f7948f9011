package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/chargegazer/internal/metrics"
	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/pkg/ws"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newIngestion(t *testing.T, store *memStore, n Notifier, skipStale bool) *IngestionService {
	t.Helper()
	svc := NewIngestionService(zaptest.NewLogger(t), store, n, nil, skipStale, 4)
	svc.now = func() time.Time { return t0.Add(time.Hour) }
	return svc
}

func meter(id string, ac float64, ts time.Time) models.MeterReading {
	return models.MeterReading{MeterID: id, KwhConsumedAC: ac, Voltage: 230, Timestamp: ts}
}

func vehicle(id string, dc, temp float64, ts time.Time) models.VehicleReading {
	return models.VehicleReading{VehicleID: id, SOC: 50, KwhDeliveredDC: dc, BatteryTemp: temp, Timestamp: ts}
}

func TestIngestWritesCurrentAndHistory(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := newIngestion(t, store, notifier, true)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, meter("M1", 12.5, t0))
	if err != nil {
		t.Fatalf("Ingest(meter) error = %v", err)
	}
	if !res.Success || !res.CurrentApplied || res.DeviceID != "M1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Message != "Meter telemetry processed for M1" {
		t.Fatalf("message = %q", res.Message)
	}

	if _, err := svc.Ingest(ctx, vehicle("V1", 10, 30, t0)); err != nil {
		t.Fatalf("Ingest(vehicle) error = %v", err)
	}

	if got := store.meterCurrent["M1"]; got.KwhConsumedAC != 12.5 || !got.LastUpdated.Equal(t0) {
		t.Fatalf("meter current = %+v", got)
	}
	if len(store.meterHistory) != 1 || len(store.vehicleHistory) != 1 {
		t.Fatalf("history sizes = %d/%d, want 1/1", len(store.meterHistory), len(store.vehicleHistory))
	}
	if got := store.vehicleHistory[0].ReceivedAt; !got.Equal(t0.Add(time.Hour)) {
		t.Fatalf("receivedAt = %v", got)
	}
	if notifier.count() != 2 {
		t.Fatalf("notifications = %d, want 2", notifier.count())
	}
	if notifier.messages[0] != ws.MsgTypeMeterUpdate || notifier.messages[1] != ws.MsgTypeVehicleUpdate {
		t.Fatalf("notification types = %v", notifier.messages)
	}
	if notifier.devices[0] != "M1" || notifier.devices[1] != "V1" {
		t.Fatalf("notification devices = %v", notifier.devices)
	}
}

func TestIngestSkipsStaleCurrent(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := newIngestion(t, store, notifier, true)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, vehicle("V1", 20, 30, t0.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Ingest(ctx, vehicle("V1", 10, 25, t0))
	if err != nil {
		t.Fatal(err)
	}

	if res.CurrentApplied {
		t.Fatalf("older reading must not overwrite current")
	}
	if got := store.vehicleCurrent["V1"]; got.KwhDeliveredDC != 20 {
		t.Fatalf("current = %+v, want the newer reading", got)
	}
	if len(store.vehicleHistory) != 2 {
		t.Fatalf("history size = %d, want 2", len(store.vehicleHistory))
	}
	if notifier.count() != 1 {
		t.Fatalf("stale reading must not be broadcast, got %d notifications", notifier.count())
	}
}

func TestIngestCurrentIndependentOfArrivalOrder(t *testing.T) {
	older := meter("M1", 1, t0)
	newer := meter("M1", 2, t0.Add(time.Second))

	for name, order := range map[string][]models.TelemetryRecord{
		"in order":     {older, newer},
		"out of order": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			svc := newIngestion(t, store, nil, true)
			for _, rec := range order {
				if _, err := svc.Ingest(context.Background(), rec); err != nil {
					t.Fatal(err)
				}
			}
			if got := store.meterCurrent["M1"]; got.KwhConsumedAC != 2 || !got.LastUpdated.Equal(newer.Timestamp) {
				t.Fatalf("current = %+v, want newest reading", got)
			}
		})
	}
}

func TestIngestLastWriteWins(t *testing.T) {
	store := newMemStore()
	svc := newIngestion(t, store, nil, false)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, meter("M1", 2, t0.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Ingest(ctx, meter("M1", 1, t0))
	if err != nil {
		t.Fatal(err)
	}
	if !res.CurrentApplied {
		t.Fatalf("last write must be applied")
	}
	if got := store.meterCurrent["M1"]; got.KwhConsumedAC != 1 {
		t.Fatalf("current = %+v, want last processed reading", got)
	}
}

func TestIngestRollsBackCurrentWhenHistoryFails(t *testing.T) {
	store := newMemStore()
	store.failHistory = true
	notifier := &recordingNotifier{}
	svc := newIngestion(t, store, notifier, true)

	_, err := svc.Ingest(context.Background(), vehicle("V1", 10, 30, t0))

	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if _, ok := store.vehicleCurrent["V1"]; ok {
		t.Fatalf("current must not be visible after a failed history write")
	}
	if len(store.vehicleHistory) != 0 {
		t.Fatalf("history must be empty")
	}
	if notifier.count() != 0 {
		t.Fatalf("failed ingest must not be broadcast")
	}
}

func TestIngestTimeoutIsReported(t *testing.T) {
	store := newMemStore()
	svc := newIngestion(t, store, nil, true)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.Ingest(ctx, meter("M1", 1, t0))
	var se *models.StorageError
	if !errors.As(err, &se) || !se.Timeout() {
		t.Fatalf("expected timed out StorageError, got %v", err)
	}
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	svc := newIngestion(t, newMemStore(), nil, true)
	ctx := context.Background()

	cases := map[string]models.TelemetryRecord{
		"nil":          nil,
		"empty id":     meter("", 1, t0),
		"no timestamp": vehicle("V1", 1, 20, time.Time{}),
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Ingest(ctx, rec); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestIngestRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newMemStore()
	svc := NewIngestionService(zaptest.NewLogger(t), store, nil, metrics.New(reg), true, 1)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, meter("M1", 1, t0.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ingest(ctx, meter("M1", 1, t0)); err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(reg, "chargegazer_ingest_total"); n != 2 {
		t.Fatalf("ingest_total series = %d, want ok and stale", n)
	}
}

func TestIngestBatchCountsAndFirstError(t *testing.T) {
	store := newMemStore()
	store.failDevices["BAD1"] = true
	store.failDevices["BAD3"] = true
	svc := newIngestion(t, store, nil, true)

	records := []models.TelemetryRecord{
		meter("M0", 1, t0),
		meter("BAD1", 1, t0),
		vehicle("V2", 1, 20, t0),
		vehicle("BAD3", 1, 20, t0),
		meter("", 1, t0),
	}

	res := svc.IngestBatch(context.Background(), records)

	if res.SuccessCount != 2 || res.FailedCount != 3 {
		t.Fatalf("counts = %d/%d, want 2/3", res.SuccessCount, res.FailedCount)
	}
	if res.FirstError == nil || !strings.HasPrefix(res.FirstError.Error(), "record 1:") {
		t.Fatalf("FirstError = %v, want error of record 1", res.FirstError)
	}
	if !errors.Is(res.FirstError, errInjected) {
		t.Fatalf("FirstError must wrap the cause, got %v", res.FirstError)
	}
	if len(store.meterHistory) != 1 || len(store.vehicleHistory) != 1 {
		t.Fatalf("successful records must be committed independently")
	}
}

func TestIngestBatchEmpty(t *testing.T) {
	svc := newIngestion(t, newMemStore(), nil, true)
	res := svc.IngestBatch(context.Background(), nil)
	if res.SuccessCount != 0 || res.FailedCount != 0 || res.FirstError != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConcurrentIngestSameVehicleKeepsAllHistory(t *testing.T) {
	store := newMemStore()
	svc := newIngestion(t, store, nil, true)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Ingest(ctx, vehicle("V1", float64(i), 20, t0.Add(time.Duration(i)*time.Minute))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Ingest() error = %v", err)
	}

	if len(store.vehicleHistory) != n {
		t.Fatalf("history rows = %d, want %d", len(store.vehicleHistory), n)
	}
	seen := make(map[float64]bool, n)
	for _, h := range store.vehicleHistory {
		seen[h.KwhDeliveredDC] = true
	}
	if len(seen) != n {
		t.Fatalf("distinct history readings = %d, want %d", len(seen), n)
	}

	latest := t0.Add((n - 1) * time.Minute)
	if cur := store.vehicleCurrent["V1"]; !cur.LastUpdated.Equal(latest) || cur.KwhDeliveredDC != n-1 {
		t.Fatalf("current = %+v, want the newest event whatever the arrival order", cur)
	}
}
