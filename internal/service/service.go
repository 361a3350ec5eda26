package service

import (
	"context"
	"time"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/metrics"
	"spc2mqtt/internal/models"
)

// Scanner fetches and parses panel pages using the shared session.
type Scanner interface {
	ScanStates(ctx context.Context) (models.PanelState, error)
	ScanController(ctx context.Context) ([]models.ControllerEntry, error)
}

// Broker delivers payloads to the MQTT broker.
type Broker interface {
	Publish(topic, payload string, retain bool) error
}

// Executor performs one panel action for a command.
type Executor interface {
	Execute(ctx context.Context, category, entityID, action string) error
}

// Monitoring exposes the latest parsed panel state for the HTTP surface.
// Generation moves forward on every completed scan, so stream consumers can
// wait for news instead of re-sending identical snapshots.
type Monitoring interface {
	PanelState() models.PanelState
	ControllerState() []models.ControllerEntry
	UpdatedAt() (state, controller time.Time)
	Generation() uint64
}

// Service aggregates the bridge's moving parts.
type Service struct {
	Watchdog *WatchdogService
	Router   *RouterService
	Monitoring
}

// Deps carries everything NewService wires together.
type Deps struct {
	Scanner  Scanner
	Broker   Broker
	Executor Executor
	Cfg      *config.Config
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

// NewService wires the watchdog and the command router over a shared
// emitter and state monitor.
func NewService(d Deps) *Service {
	monitor := NewMonitor()
	emit := newEmitter(d.Broker, d.Cfg.MQTT.BaseTopic, d.Cfg.MQTT.Retain)
	return &Service{
		Watchdog:   NewWatchdogService(d.Scanner, emit, d.Cfg.Watchdog, monitor, d.Metrics, d.Log),
		Router:     NewRouterService(emit, d.Executor, d.Cfg.Watchdog.Controle, d.Metrics, d.Log),
		Monitoring: monitor,
	}
}
