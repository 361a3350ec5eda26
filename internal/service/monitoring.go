package service

import (
	"sync"
	"time"

	"spc2mqtt/internal/models"
)

// Monitor keeps the latest parsed panel state for the debug HTTP surface.
// The scan loops write; handlers read. Every write bumps a generation
// counter so stream consumers can cheaply detect that a fresh scan landed
// without diffing the state themselves.
type Monitor struct {
	mu           sync.RWMutex
	gen          uint64
	state        models.PanelState
	controller   []models.ControllerEntry
	stateAt      time.Time
	controllerAt time.Time
}

// NewMonitor returns an empty monitor at generation zero.
func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) setPanelState(st models.PanelState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.stateAt = time.Now()
	m.gen++
}

func (m *Monitor) setControllerState(entries []models.ControllerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controller = entries
	m.controllerAt = time.Now()
	m.gen++
}

// Generation returns the current scan generation. It only moves forward.
func (m *Monitor) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// PanelState returns the last fast-scan result.
func (m *Monitor) PanelState() models.PanelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ControllerState returns the last controller-scan result.
func (m *Monitor) ControllerState() []models.ControllerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controller
}

// UpdatedAt returns the instants of the last successful scans.
func (m *Monitor) UpdatedAt() (state, controller time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateAt, m.controllerAt
}
