package service

import (
	"context"
	"strconv"
	"time"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/metrics"
	"spc2mqtt/internal/models"
	"spc2mqtt/internal/spc"
)

const (
	fastLoop       = "fast"
	controllerLoop = "controller"
)

// WatchdogService drives the two scan loops: the fast state scan and the
// slower controller scan. Each loop owns its snapshot; a failed scan is
// logged, skipped and leaves the snapshot untouched.
type WatchdogService struct {
	scanner Scanner
	emit    *emitter
	cfg     config.WatchdogConfig
	monitor *Monitor
	metrics *metrics.Metrics
	log     *logger.Logger

	stateSnap *snapshot
	ctrlSnap  *snapshot
}

// NewWatchdogService builds the watchdog with empty snapshots, so the first
// scan after startup publishes every parseable field.
func NewWatchdogService(scanner Scanner, emit *emitter, cfg config.WatchdogConfig, monitor *Monitor, m *metrics.Metrics, log *logger.Logger) *WatchdogService {
	return &WatchdogService{
		scanner:   scanner,
		emit:      emit,
		cfg:       cfg,
		monitor:   monitor,
		metrics:   m,
		log:       log,
		stateSnap: newSnapshot(),
		ctrlSnap:  newSnapshot(),
	}
}

// Run ticks the fast scan until ctx is canceled. An immediate first scan
// publishes the initial state.
func (w *WatchdogService) Run(ctx context.Context) {
	w.scanOnce(ctx)
	t := time.NewTicker(w.cfg.Refresh())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.scanOnce(ctx)
		}
	}
}

// RunController ticks the controller scan until ctx is canceled.
func (w *WatchdogService) RunController(ctx context.Context) {
	w.controllerScanOnce(ctx)
	t := time.NewTicker(w.cfg.ControllerRefresh())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.controllerScanOnce(ctx)
		}
	}
}

func (w *WatchdogService) scanOnce(ctx context.Context) {
	start := time.Now()
	st, err := w.scanner.ScanStates(ctx)
	if err != nil {
		w.metrics.ScanErrorsTotal.WithLabelValues(fastLoop).Inc()
		w.log.Warnw("state scan skipped", "err", err)
		return
	}
	w.metrics.ScansTotal.WithLabelValues(fastLoop).Inc()
	w.metrics.ScanDuration.WithLabelValues(fastLoop).Observe(time.Since(start).Seconds())

	w.monitor.setPanelState(st)
	w.publishZones(st.Zones)
	w.publishSectors(st.Sectors)
	w.publishDoors(st.Doors)
	w.publishOutputs(st.Outputs)
}

func (w *WatchdogService) controllerScanOnce(ctx context.Context) {
	start := time.Now()
	entries, err := w.scanner.ScanController(ctx)
	if err != nil {
		w.metrics.ScanErrorsTotal.WithLabelValues(controllerLoop).Inc()
		w.log.Warnw("controller scan skipped", "err", err)
		return
	}
	w.metrics.ScansTotal.WithLabelValues(controllerLoop).Inc()
	w.metrics.ScanDuration.WithLabelValues(controllerLoop).Observe(time.Since(start).Seconds())

	w.monitor.setControllerState(entries)
	for _, e := range entries {
		topic := "etat/" + spc.Slugify(e.Section) + "/" + spc.Slugify(e.Label)
		w.publish(w.ctrlSnap, "etat", topic, e.Value)
	}
}

// Publication order per entity: metadata first, state last.

func (w *WatchdogService) publishZones(zones []models.Zone) {
	if !w.cfg.Information.Zones {
		return
	}
	for _, z := range zones {
		base := config.CategoryZones + "/" + z.ID + "/"
		w.publish(w.stateSnap, config.CategoryZones, base+"name", z.Name)
		w.publish(w.stateSnap, config.CategoryZones, base+"sector", z.Sector)
		w.publishCode(config.CategoryZones, base+"state", z.State)
		w.publishCode(config.CategoryZones, base+"entree", z.Entree)
	}
}

func (w *WatchdogService) publishSectors(sectors []models.Sector) {
	if !w.cfg.Information.Secteurs {
		return
	}
	for _, s := range sectors {
		base := config.CategorySecteurs + "/" + s.ID + "/"
		w.publish(w.stateSnap, config.CategorySecteurs, base+"name", s.Name)
		w.publishCode(config.CategorySecteurs, base+"state", s.State)
	}
}

func (w *WatchdogService) publishDoors(doors []models.Door) {
	if !w.cfg.Information.Doors {
		return
	}
	for _, d := range doors {
		base := config.CategoryDoors + "/" + d.ID + "/"
		w.publish(w.stateSnap, config.CategoryDoors, base+"name", d.Name)
		w.publish(w.stateSnap, config.CategoryDoors, base+"zone", d.Zone)
		w.publish(w.stateSnap, config.CategoryDoors, base+"sector", d.Sector)
		w.publishCode(config.CategoryDoors, base+"state", d.State)
		w.publishCode(config.CategoryDoors, base+"drs", d.DRS)
		w.publishCode(config.CategoryDoors, base+"dps", d.DPS)
	}
}

func (w *WatchdogService) publishOutputs(outputs []models.Output) {
	if !w.cfg.Information.Outputs {
		return
	}
	for _, o := range outputs {
		base := config.CategoryOutputs + "/" + o.ID + "/"
		w.publish(w.stateSnap, config.CategoryOutputs, base+"name", o.Name)
		w.publish(w.stateSnap, config.CategoryOutputs, base+"state_txt", o.StateTxt)
		w.publishCode(config.CategoryOutputs, base+"state", o.State)
	}
}

// publishCode publishes an integer state, suppressing the -1 sentinel.
func (w *WatchdogService) publishCode(category, topic string, code int) {
	if code == spc.Unparseable {
		return
	}
	w.publish(w.stateSnap, category, topic, strconv.Itoa(code))
}

// publish sends a payload when it differs from the snapshot, committing the
// snapshot only after a successful publish so a broker hiccup is retried on
// the next scan.
func (w *WatchdogService) publish(snap *snapshot, category, topic, payload string) {
	if !snap.changed(topic, payload) {
		return
	}
	if err := w.emit.publishState(topic, payload); err != nil {
		w.metrics.PublishErrorsTotal.Inc()
		w.log.Warnw("publish failed", "topic", topic, "err", err)
		return
	}
	snap.commit(topic, payload)
	w.metrics.PublishesTotal.WithLabelValues(category).Inc()
	if w.cfg.LogChanges {
		w.log.Infow("published", "topic", topic, "value", payload)
	}
}
