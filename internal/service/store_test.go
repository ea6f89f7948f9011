package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/internal/repository"
)

var errInjected = errors.New("injected storage failure")

// memStore 内存版存储：事务内的写入在 fn 成功后才提交
type memStore struct {
	mu sync.Mutex

	meterCurrent   map[string]models.MeterCurrent
	vehicleCurrent map[string]models.VehicleCurrent
	meterHistory   []models.MeterHistory
	vehicleHistory []models.VehicleHistory

	failHistory bool
	failDevices map[string]bool
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		meterCurrent:   make(map[string]models.MeterCurrent),
		vehicleCurrent: make(map[string]models.VehicleCurrent),
		failDevices:    make(map[string]bool),
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(w repository.TelemetryWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:          s,
		meterCurrent:   make(map[string]models.MeterCurrent),
		vehicleCurrent: make(map[string]models.VehicleCurrent),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, c := range tx.meterCurrent {
		s.meterCurrent[id] = c
	}
	for id, c := range tx.vehicleCurrent {
		s.vehicleCurrent[id] = c
	}
	for _, h := range tx.meterHistory {
		s.nextID++
		h.ID = s.nextID
		s.meterHistory = append(s.meterHistory, h)
	}
	for _, h := range tx.vehicleHistory {
		s.nextID++
		h.ID = s.nextID
		s.vehicleHistory = append(s.vehicleHistory, h)
	}
	return nil
}

type memTx struct {
	store          *memStore
	meterCurrent   map[string]models.MeterCurrent
	vehicleCurrent map[string]models.VehicleCurrent
	meterHistory   []models.MeterHistory
	vehicleHistory []models.VehicleHistory
}

func (tx *memTx) UpsertMeterCurrent(_ context.Context, c *models.MeterCurrent, skipStale bool) (bool, error) {
	if tx.store.failDevices[c.MeterID] {
		return false, errInjected
	}
	if existing, ok := tx.store.meterCurrent[c.MeterID]; ok && skipStale && existing.LastUpdated.After(c.LastUpdated) {
		return false, nil
	}
	tx.meterCurrent[c.MeterID] = *c
	return true, nil
}

func (tx *memTx) InsertMeterHistory(_ context.Context, h *models.MeterHistory) error {
	if tx.store.failHistory {
		return errInjected
	}
	tx.meterHistory = append(tx.meterHistory, *h)
	return nil
}

func (tx *memTx) UpsertVehicleCurrent(_ context.Context, c *models.VehicleCurrent, skipStale bool) (bool, error) {
	if tx.store.failDevices[c.VehicleID] {
		return false, errInjected
	}
	if existing, ok := tx.store.vehicleCurrent[c.VehicleID]; ok && skipStale && existing.LastUpdated.After(c.LastUpdated) {
		return false, nil
	}
	tx.vehicleCurrent[c.VehicleID] = *c
	return true, nil
}

func (tx *memTx) InsertVehicleHistory(_ context.Context, h *models.VehicleHistory) error {
	if tx.store.failHistory {
		return errInjected
	}
	tx.vehicleHistory = append(tx.vehicleHistory, *h)
	return nil
}

func inWindow(ts time.Time, w models.Window) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

func (s *memStore) VehicleWindowStats(_ context.Context, vehicleID string, w models.Window) (models.VehicleWindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st models.VehicleWindowStats
	var tempSum float64
	for _, h := range s.vehicleHistory {
		if h.VehicleID != vehicleID || !inWindow(h.Timestamp, w) {
			continue
		}
		st.TotalDCDelivered += h.KwhDeliveredDC
		tempSum += h.BatteryTemp
		st.SampleCount++
	}
	if st.SampleCount > 0 {
		st.AvgBatteryTemp = tempSum / float64(st.SampleCount)
	}
	return st, nil
}

func (s *memStore) MeterACTotal(_ context.Context, meterID string, w models.Window) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, h := range s.meterHistory {
		if h.MeterID == meterID && inWindow(h.Timestamp, w) {
			total += h.KwhConsumedAC
		}
	}
	return total, nil
}

func (s *memStore) CountActiveVehicles(_ context.Context, w models.Window) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, h := range s.vehicleHistory {
		if inWindow(h.Timestamp, w) {
			seen[h.VehicleID] = true
		}
	}
	return int64(len(seen)), nil
}

func (s *memStore) CountActiveMeters(_ context.Context, w models.Window) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, h := range s.meterHistory {
		if inWindow(h.Timestamp, w) {
			seen[h.MeterID] = true
		}
	}
	return int64(len(seen)), nil
}

func (s *memStore) FleetEnergyTotals(_ context.Context, w models.Window) (models.FleetEnergyTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t models.FleetEnergyTotals
	for _, h := range s.meterHistory {
		if inWindow(h.Timestamp, w) {
			t.TotalACConsumed += h.KwhConsumedAC
		}
	}
	for _, h := range s.vehicleHistory {
		if inWindow(h.Timestamp, w) {
			t.TotalDCDelivered += h.KwhDeliveredDC
		}
	}
	return t, nil
}

func (s *memStore) GetVehicleCurrent(_ context.Context, vehicleID string) (*models.VehicleCurrent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.vehicleCurrent[vehicleID]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, models.ErrNotFound)
	}
	return &c, nil
}

func (s *memStore) GetLatestVehicleHistory(_ context.Context, vehicleID string) (*models.VehicleHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.VehicleHistory
	for i := range s.vehicleHistory {
		h := s.vehicleHistory[i]
		if h.VehicleID != vehicleID {
			continue
		}
		if latest == nil || h.Timestamp.After(latest.Timestamp) {
			latest = &h
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("vehicle %s history: %w", vehicleID, models.ErrNotFound)
	}
	return latest, nil
}

func (s *memStore) GetMeterCurrent(_ context.Context, meterID string) (*models.MeterCurrent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.meterCurrent[meterID]
	if !ok {
		return nil, fmt.Errorf("meter %s: %w", meterID, models.ErrNotFound)
	}
	return &c, nil
}

// memPairings 内存版配对存储
type memPairings struct {
	mu       sync.Mutex
	pairings []*models.ChargePairing
	nextID   int64
	listErr  error
}

func (m *memPairings) Create(_ context.Context, p *models.ChargePairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.pairings {
		if existing.VehicleID != p.VehicleID {
			continue
		}
		if existing.Status == models.PairingActive {
			return fmt.Errorf("vehicle %s already paired: %w", p.VehicleID, models.ErrConflict)
		}
		if existing.EndedAt != nil && existing.EndedAt.After(p.StartedAt) {
			return fmt.Errorf("vehicle %s overlaps pairing %d: %w", p.VehicleID, existing.ID, models.ErrConflict)
		}
	}
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.pairings = append(m.pairings, &cp)
	return nil
}

func (m *memPairings) GetByID(_ context.Context, id int64) (*models.ChargePairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pairings {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("pairing %d: %w", id, models.ErrNotFound)
}

func (m *memPairings) Close(_ context.Context, id int64, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pairings {
		if p.ID == id && p.Status == models.PairingActive {
			p.Status = models.PairingClosed
			p.EndedAt = &endedAt
			return nil
		}
	}
	return fmt.Errorf("pairing %d is not active: %w", id, models.ErrConflict)
}

func (m *memPairings) ListByVehicle(_ context.Context, vehicleID string) ([]*models.ChargePairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ChargePairing
	for _, p := range m.pairings {
		if p.VehicleID == vehicleID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memPairings) ListOverlapping(_ context.Context, vehicleID string, w models.Window) ([]*models.ChargePairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.ChargePairing
	for _, p := range m.pairings {
		if p.VehicleID != vehicleID || p.StartedAt.After(w.End) {
			continue
		}
		if p.EndedAt != nil && p.EndedAt.Before(w.Start) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// add 绕过 Create 的检查直接写入一条配对，模拟早于重叠校验写入的数据
func (m *memPairings) add(vehicleID, meterID string, start time.Time, end *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	status := models.PairingActive
	if end != nil {
		status = models.PairingClosed
	}
	m.pairings = append(m.pairings, &models.ChargePairing{
		ID: m.nextID, VehicleID: vehicleID, MeterID: meterID,
		StartedAt: start, EndedAt: end, Status: status,
	})
}

// recordingNotifier 记录推送消息
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	devices  []string
}

func (n *recordingNotifier) Publish(msgType, deviceID string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msgType)
	n.devices = append(n.devices, deviceID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}
