package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func TestParseTimestampLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-01T10:00:00Z":      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		"2024-01-01T12:00:00+02:00": time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		"2024-01-01T10:00:00.250Z":  time.Date(2024, 1, 1, 10, 0, 0, 250e6, time.UTC),
		"2024-01-01T10:00:00":       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		"2024-01-01T10:00":          time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		"2024-01-01":                time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"  2024-01-01T10:00:00.5  ": time.Date(2024, 1, 1, 10, 0, 0, 500e6, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error = %v", in, err)
		}
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"", "yesterday", "01/02/2024", "2024-13-01"} {
		if _, err := ParseTimestamp(in); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseTimestamp(%q): expected ErrValidation, got %v", in, err)
		}
	}
}

func TestMeterTelemetryToReading(t *testing.T) {
	r, err := MeterTelemetry{
		MeterID:       " M1 ",
		KwhConsumedAC: f64(12.5),
		Voltage:       f64(230),
		Timestamp:     "2024-01-01T10:00:00Z",
	}.ToReading()
	if err != nil {
		t.Fatalf("ToReading() error = %v", err)
	}
	if r.DeviceID() != "M1" || r.Kind() != KindMeter || r.KwhConsumedAC != 12.5 {
		t.Fatalf("unexpected reading %+v", r)
	}

	invalid := []MeterTelemetry{
		{MeterID: "", KwhConsumedAC: f64(1), Voltage: f64(1), Timestamp: "2024-01-01"},
		{MeterID: "M1", KwhConsumedAC: f64(-1), Voltage: f64(1), Timestamp: "2024-01-01"},
		{MeterID: "M1", KwhConsumedAC: f64(1), Voltage: nil, Timestamp: "2024-01-01"},
		{MeterID: "M1", KwhConsumedAC: f64(math.NaN()), Voltage: f64(1), Timestamp: "2024-01-01"},
		{MeterID: "M1", KwhConsumedAC: f64(1), Voltage: f64(1), Timestamp: "soon"},
	}
	for i, p := range invalid {
		if _, err := p.ToReading(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestVehicleTelemetryToReading(t *testing.T) {
	valid := VehicleTelemetry{
		VehicleID:      "V1",
		SOC:            f64(100),
		KwhDeliveredDC: f64(0),
		BatteryTemp:    f64(-12.5),
		Timestamp:      "2024-01-01T10:00:00Z",
	}
	r, err := valid.ToReading()
	if err != nil {
		t.Fatalf("ToReading() error = %v", err)
	}
	if r.Kind() != KindVehicle || r.BatteryTemp != -12.5 || r.SOC != 100 {
		t.Fatalf("unexpected reading %+v", r)
	}

	mutations := map[string]func(p *VehicleTelemetry){
		"soc above range": func(p *VehicleTelemetry) { p.SOC = f64(100.1) },
		"negative soc":    func(p *VehicleTelemetry) { p.SOC = f64(-0.1) },
		"negative dc":     func(p *VehicleTelemetry) { p.KwhDeliveredDC = f64(-1) },
		"infinite temp":   func(p *VehicleTelemetry) { p.BatteryTemp = f64(math.Inf(1)) },
		"missing temp":    func(p *VehicleTelemetry) { p.BatteryTemp = nil },
		"blank id":        func(p *VehicleTelemetry) { p.VehicleID = "   " },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			if _, err := p.ToReading(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestWindowIntersect(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(base.Add(24*time.Hour), 24*time.Hour)
	if !w.Start.Equal(base) {
		t.Fatalf("window start = %v", w.Start)
	}

	got, ok := w.Intersect(Window{Start: base.Add(-time.Hour), End: base.Add(2 * time.Hour)})
	if !ok || !got.Start.Equal(base) || !got.End.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("intersect = %+v, %v", got, ok)
	}

	touching, ok := w.Intersect(Window{Start: base.Add(24 * time.Hour), End: base.Add(30 * time.Hour)})
	if !ok || !touching.Start.Equal(touching.End) {
		t.Fatalf("closed windows sharing an endpoint must intersect at that instant: %+v, %v", touching, ok)
	}

	if _, ok := w.Intersect(Window{Start: base.Add(25 * time.Hour), End: base.Add(26 * time.Hour)}); ok {
		t.Fatalf("disjoint windows must not intersect")
	}
}

func TestPairingRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	openEnd := start.Add(5 * time.Hour)

	active := &ChargePairing{StartedAt: start}
	if r := active.Range(openEnd); !r.End.Equal(openEnd) {
		t.Fatalf("active range end = %v, want %v", r.End, openEnd)
	}

	ended := start.Add(time.Hour)
	closed := &ChargePairing{StartedAt: start, EndedAt: &ended}
	if r := closed.Range(openEnd); !r.End.Equal(ended) {
		t.Fatalf("closed range end = %v, want %v", r.End, ended)
	}
}

func TestStorageErrorWrapping(t *testing.T) {
	if NewStorageError("op", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}

	nf := NewStorageError("get", ErrNotFound)
	if nf != ErrNotFound {
		t.Fatalf("ErrNotFound must pass through, got %v", nf)
	}

	err := NewStorageError("write", errors.New("boom"))
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "write" || se.Timeout() {
		t.Fatalf("unexpected storage error %#v", err)
	}

	if again := NewStorageError("outer", err); again != err {
		t.Fatalf("StorageError must not be double wrapped")
	}
}

func TestMergeWindows(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := func(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

	got := MergeWindows([]Window{
		{Start: h(8), End: h(9)},
		{Start: h(0), End: h(5)},
		{Start: h(2), End: h(3)}, // 被包含
		{Start: h(5), End: h(6)}, // 首尾相接
		{Start: h(4), End: h(7)},
	})
	want := []Window{{Start: h(0), End: h(7)}, {Start: h(8), End: h(9)}}
	if len(got) != len(want) {
		t.Fatalf("merged = %+v, want %+v", got, want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("merged[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if MergeWindows(nil) != nil {
		t.Fatalf("merging nothing must return nil")
	}
}
