package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/langchou/chargegazer/internal/models"
)

// 配对状态常量
const (
	StateActive = models.PairingActive
	StateClosed = models.PairingClosed
)

// 事件常量
const (
	EventClose = "close"
)

// Machine 充电配对状态机
type Machine struct {
	mu            sync.Mutex
	pairingID     int64
	fsm           *fsm.FSM
	onStateChange func(pairingID int64, from, to string)
}

// NewMachine 以配对当前状态创建状态机
func NewMachine(p *models.ChargePairing, onStateChange func(pairingID int64, from, to string)) *Machine {
	initialState := p.Status
	if initialState == "" {
		initialState = StateActive
	}

	m := &Machine{
		pairingID:     p.ID,
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventClose, Src: []string{StateActive}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.pairingID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 当前状态
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Can 是否可以触发事件
func (m *Machine) Can(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Can(event)
}

// Trigger 触发事件，非法转换返回 models.ErrConflict
func (m *Machine) Trigger(ctx context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(ctx, event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("pairing %d: %s from %s: %w", m.pairingID, event, m.fsm.Current(), models.ErrConflict)
		}
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}
