package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/metrics"
	"spc2mqtt/internal/models"
)

type publication struct {
	topic   string
	payload string
	retain  bool
}

type fakeBroker struct {
	pubs []publication
	err  error
}

func (f *fakeBroker) Publish(topic, payload string, retain bool) error {
	if f.err != nil {
		return f.err
	}
	f.pubs = append(f.pubs, publication{topic, payload, retain})
	return nil
}

func (f *fakeBroker) topics() []string {
	out := make([]string, len(f.pubs))
	for i, p := range f.pubs {
		out[i] = p.topic
	}
	return out
}

type fakeScanner struct {
	state    models.PanelState
	ctrl     []models.ControllerEntry
	stateErr error
	ctrlErr  error
}

func (f *fakeScanner) ScanStates(ctx context.Context) (models.PanelState, error) {
	return f.state, f.stateErr
}

func (f *fakeScanner) ScanController(ctx context.Context) ([]models.ControllerEntry, error) {
	return f.ctrl, f.ctrlErr
}

func allInformation() config.CategoryFlags {
	return config.CategoryFlags{Zones: true, Secteurs: true, Doors: true, Outputs: true}
}

func newWatchdogFixture(scanner Scanner, broker Broker, cfg config.WatchdogConfig) *WatchdogService {
	m := metrics.New(prometheus.NewRegistry())
	emit := newEmitter(broker, "base", true)
	return NewWatchdogService(scanner, emit, cfg, NewMonitor(), m, logger.Nop())
}

func singleZoneState(stateCode int) models.PanelState {
	return models.PanelState{
		Zones: []models.Zone{{ID: "01", Name: "01 Hall", Sector: "1", Entree: 1, State: stateCode}},
		Sectors: []models.Sector{
			{ID: "0", Name: "Tous Secteurs", State: 0},
			{ID: "1", Name: "Maison", State: 0},
		},
	}
}

func TestInitialScanPublishesEverything(t *testing.T) {
	broker := &fakeBroker{}
	scanner := &fakeScanner{state: singleZoneState(0)}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())

	want := map[string]string{
		"base/zones/01/name":    "01 Hall",
		"base/zones/01/sector":  "1",
		"base/zones/01/state":   "0",
		"base/zones/01/entree":  "1",
		"base/secteurs/0/name":  "Tous Secteurs",
		"base/secteurs/0/state": "0",
		"base/secteurs/1/name":  "Maison",
		"base/secteurs/1/state": "0",
	}
	if len(broker.pubs) != len(want) {
		t.Fatalf("expected %d publishes, got %d: %v", len(want), len(broker.pubs), broker.topics())
	}
	for _, p := range broker.pubs {
		if want[p.topic] != p.payload {
			t.Errorf("topic %s = %q, want %q", p.topic, p.payload, want[p.topic])
		}
		if !p.retain {
			t.Errorf("state topic %s not retained", p.topic)
		}
	}
}

func TestMetadataBeforeState(t *testing.T) {
	broker := &fakeBroker{}
	w := newWatchdogFixture(&fakeScanner{state: singleZoneState(0)}, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())

	nameIdx, stateIdx := -1, -1
	for i, p := range broker.pubs {
		switch p.topic {
		case "base/zones/01/name":
			nameIdx = i
		case "base/zones/01/state":
			stateIdx = i
		}
	}
	if nameIdx == -1 || stateIdx == -1 || nameIdx > stateIdx {
		t.Errorf("metadata must precede state: name at %d, state at %d", nameIdx, stateIdx)
	}
}

func TestIdenticalScanPublishesNothing(t *testing.T) {
	broker := &fakeBroker{}
	scanner := &fakeScanner{state: singleZoneState(0)}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())
	first := len(broker.pubs)
	w.scanOnce(context.Background())
	if len(broker.pubs) != first {
		t.Fatalf("identical scan republished: %v", broker.topics()[first:])
	}
}

func TestSingleFieldChangePublishesOneTopic(t *testing.T) {
	broker := &fakeBroker{}
	scanner := &fakeScanner{state: singleZoneState(0)}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())
	first := len(broker.pubs)

	scanner.state = singleZoneState(1)
	w.scanOnce(context.Background())

	delta := broker.pubs[first:]
	if len(delta) != 1 || delta[0].topic != "base/zones/01/state" || delta[0].payload != "1" {
		t.Fatalf("expected exactly base/zones/01/state=1, got %v", delta)
	}
}

func TestSentinelNeverPublished(t *testing.T) {
	broker := &fakeBroker{}
	state := models.PanelState{
		Zones:   []models.Zone{{ID: "01", Name: "01 Hall", Sector: "1", Entree: -1, State: -1}},
		Outputs: []models.Output{{ID: "s", Name: "s", State: -1, StateTxt: "défaut"}},
	}
	w := newWatchdogFixture(&fakeScanner{state: state}, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())

	for _, p := range broker.pubs {
		if p.payload == "-1" {
			t.Errorf("sentinel published on %s", p.topic)
		}
		if strings.HasSuffix(p.topic, "/state") || strings.HasSuffix(p.topic, "/entree") {
			t.Errorf("unparseable field published on %s", p.topic)
		}
	}
}

func TestInformationGate(t *testing.T) {
	broker := &fakeBroker{}
	state := singleZoneState(0)
	state.Doors = []models.Door{{ID: "5", Name: "5 Porte", State: 0}}
	cfg := config.WatchdogConfig{
		Information: config.CategoryFlags{Zones: true, Secteurs: false, Doors: false, Outputs: false},
	}
	w := newWatchdogFixture(&fakeScanner{state: state}, broker, cfg)

	w.scanOnce(context.Background())

	for _, p := range broker.pubs {
		if strings.HasPrefix(p.topic, "base/secteurs/") || strings.HasPrefix(p.topic, "base/doors/") {
			t.Errorf("gated category published: %s", p.topic)
		}
	}
	if len(broker.pubs) == 0 {
		t.Error("enabled category published nothing")
	}
}

func TestScanErrorKeepsSnapshot(t *testing.T) {
	broker := &fakeBroker{}
	scanner := &fakeScanner{state: singleZoneState(0)}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())
	first := len(broker.pubs)

	scanner.stateErr = errors.New("panel unreachable")
	w.scanOnce(context.Background())
	if len(broker.pubs) != first {
		t.Fatal("failed scan must publish nothing")
	}

	// Recovery with identical data publishes nothing either: the snapshot
	// survived the failed tick.
	scanner.stateErr = nil
	w.scanOnce(context.Background())
	if len(broker.pubs) != first {
		t.Fatalf("snapshot lost across failed scan: %v", broker.topics()[first:])
	}
}

func TestPublishErrorRetriesNextScan(t *testing.T) {
	broker := &fakeBroker{err: errors.New("broker down")}
	scanner := &fakeScanner{state: singleZoneState(0)}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.scanOnce(context.Background())
	if len(broker.pubs) != 0 {
		t.Fatal("publishes should have failed")
	}

	broker.err = nil
	w.scanOnce(context.Background())
	if len(broker.pubs) == 0 {
		t.Fatal("failed publishes were committed to the snapshot and never retried")
	}
}

func TestControllerScanPublishesEntries(t *testing.T) {
	broker := &fakeBroker{}
	scanner := &fakeScanner{ctrl: []models.ControllerEntry{
		{Section: "Système", Label: "Version", Value: "3.8.5"},
	}}
	w := newWatchdogFixture(scanner, broker, config.WatchdogConfig{Information: allInformation()})

	w.controllerScanOnce(context.Background())
	if len(broker.pubs) != 1 {
		t.Fatalf("expected 1 publish, got %v", broker.topics())
	}
	if broker.pubs[0].topic != "base/etat/syst_me/version" || broker.pubs[0].payload != "3.8.5" {
		t.Errorf("unexpected controller publish: %+v", broker.pubs[0])
	}

	w.controllerScanOnce(context.Background())
	if len(broker.pubs) != 1 {
		t.Error("identical controller scan republished")
	}
}
