package hapticbridge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

type stubDevice struct {
	mu        sync.Mutex
	index     uint32
	name      string
	connected bool
}

func (d *stubDevice) Index() uint32 { return d.index }
func (d *stubDevice) Name() string  { return d.name }
func (d *stubDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}
func (d *stubDevice) HasBattery() bool                              { return false }
func (d *stubDevice) BatteryLevel(context.Context) (float64, error) { return 0, nil }
func (d *stubDevice) Attributes() device.Attributes {
	return device.Attributes{
		Scalars: []device.ScalarAttribute{{Index: 0, Actuator: device.ActuatorVibrate}},
	}
}
func (d *stubDevice) Scalar(context.Context, map[uint32]device.ScalarCommand) error { return nil }
func (d *stubDevice) Rotate(context.Context, map[uint32]device.RotateCommand) error { return nil }
func (d *stubDevice) Linear(context.Context, map[uint32]device.LinearCommand) error { return nil }

type stubClient struct {
	events chan device.Event
}

func newStubClient() *stubClient {
	return &stubClient{events: make(chan device.Event, 16)}
}

func (c *stubClient) Events() <-chan device.Event         { return c.events }
func (c *stubClient) StartScanning(context.Context) error { return nil }
func (c *stubClient) StopScanning(context.Context) error  { return nil }
func (c *stubClient) Close() error                        { return nil }

func testSettings(t *testing.T) Settings {
	t.Helper()
	// Negative settle delay disables the post-add wait.
	return Settings{ConfigDir: t.TempDir(), SettleDelayMS: -1}
}

func newTestBridge(t *testing.T) (*Bridge, *stubClient) {
	t.Helper()
	client := newStubClient()
	b, err := New(client, WithSettings(testSettings(t)))
	if err != nil {
		t.Fatal(err)
	}
	return b, client
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("event kind %d never arrived", kind)
		}
	}
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestBridgeToyAddRemoveEvents(t *testing.T) {
	b, client := newTestBridge(t)
	ch := b.Watch()
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	dev := &stubDevice{index: 3, name: "Lovense Hush", connected: true}
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: dev}

	ev := waitEvent(t, ch, EventToyAdd)
	if ev.Toy == nil || ev.Toy.Name != "Lovense Hush" || len(ev.Toy.Features) != 1 {
		t.Fatalf("toy add event = %+v", ev)
	}
	if got := len(b.Toys()); got != 1 {
		t.Fatalf("Toys() = %d entries, want 1", got)
	}

	client.events <- device.Event{Kind: device.EventDeviceRemoved, Device: dev}
	ev = waitEvent(t, ch, EventToyRemove)
	if ev.ToyID != 3 {
		t.Fatalf("remove event id = %d", ev.ToyID)
	}
}

func TestBridgeAlterFeature(t *testing.T) {
	b, client := newTestBridge(t)
	ch := b.Watch()
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	dev := &stubDevice{index: 3, name: "Lush", connected: true}
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: dev}
	added := waitEvent(t, ch, EventToyAdd)

	view := added.Toy.Features[0]
	view.OSCParameter = "/avatar/parameters/Custom"
	view.FlipInput = true
	if err := b.AlterFeature(3, view); err != nil {
		t.Fatal(err)
	}

	got := b.Toys()[0].Features[0]
	if got.OSCParameter != "/avatar/parameters/Custom" || !got.FlipInput {
		t.Fatalf("feature not altered: %+v", got)
	}

	if err := b.AlterFeature(99, view); err == nil {
		t.Fatal("altering an unknown toy should fail")
	}
}

func TestBridgeSetOSCDataPersists(t *testing.T) {
	client := newStubClient()
	settings := testSettings(t)
	b, err := New(client, WithSettings(settings))
	if err != nil {
		t.Fatal(err)
	}
	ch := b.Watch()
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	dev := &stubDevice{index: 1, name: "Edge", connected: true}
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: dev}
	waitEvent(t, ch, EventToyAdd)

	if err := b.SetOSCData(1, true); err != nil {
		t.Fatal(err)
	}
	if !b.Toys()[0].OSCData {
		t.Fatal("osc_data not set")
	}

	// The change must be on disk too.
	store := toy.NewStore(settings.ConfigDir, b.log)
	cfg, err := store.Load("Edge")
	if err != nil || cfg == nil {
		t.Fatalf("config load: %v %v", cfg, err)
	}
	if !cfg.OSCData {
		t.Fatal("osc_data not persisted")
	}
}

func TestBridgeAnatomyBulkToggle(t *testing.T) {
	b, client := newTestBridge(t)
	ch := b.Watch()
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: &stubDevice{index: 1, name: "A", connected: true}}
	waitEvent(t, ch, EventToyAdd)
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: &stubDevice{index: 2, name: "B", connected: true}}
	waitEvent(t, ch, EventToyAdd)

	if err := b.SetAnatomy(1, toy.AnatomyChest); err != nil {
		t.Fatal(err)
	}
	if changed := b.SetEnabledByAnatomy(toy.AnatomyChest, false); changed != 1 {
		t.Fatalf("changed %d toys, want 1", changed)
	}
	for _, snap := range b.Toys() {
		enabled := snap.Features[0].Enabled
		if snap.ID == 1 && enabled {
			t.Fatal("anatomy-matched toy should be disabled")
		}
		if snap.ID == 2 && !enabled {
			t.Fatal("unmatched toy should stay enabled")
		}
	}
}

func TestBridgeStartIsExclusive(t *testing.T) {
	b, _ := newTestBridge(t)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestSettingsDefaults(t *testing.T) {
	var s Settings
	s.Defaults()
	if s.MaxCommandsPerSecond != 10 {
		t.Errorf("rate = %d, want 10", s.MaxCommandsPerSecond)
	}
	if s.SettleDelayMS != 3000 {
		t.Errorf("settle = %d, want 3000", s.SettleDelayMS)
	}
	if s.OSC.BindPort != 9001 {
		t.Errorf("bind port = %d, want 9001", s.OSC.BindPort)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := Settings{ScanOnDisconnect: true, MaxCommandsPerSecond: 20}
	s.Defaults()
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.ScanOnDisconnect || loaded.MaxCommandsPerSecond != 20 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestLoadSettingsMissingGivesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s.MaxCommandsPerSecond != 10 {
		t.Fatalf("loaded = %+v", s)
	}
}
