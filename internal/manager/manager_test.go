package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/dispatch"
	"github.com/cbegin/hapticbridge-go/internal/oscin"
	"github.com/cbegin/hapticbridge-go/internal/process"
	"github.com/cbegin/hapticbridge-go/internal/ratelimit"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

type fakeDevice struct {
	mu        sync.Mutex
	index     uint32
	name      string
	connected bool
	attrs     device.Attributes
	scalars   []map[uint32]device.ScalarCommand
}

func newFakeDevice(index uint32, name string) *fakeDevice {
	return &fakeDevice{
		index:     index,
		name:      name,
		connected: true,
		attrs: device.Attributes{
			Scalars: []device.ScalarAttribute{{Index: 0, Actuator: device.ActuatorVibrate}},
		},
	}
}

func (d *fakeDevice) Index() uint32 { return d.index }
func (d *fakeDevice) Name() string  { return d.name }
func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}
func (d *fakeDevice) HasBattery() bool                              { return false }
func (d *fakeDevice) BatteryLevel(context.Context) (float64, error) { return 0, nil }
func (d *fakeDevice) Attributes() device.Attributes                 { return d.attrs }
func (d *fakeDevice) Scalar(_ context.Context, cmds map[uint32]device.ScalarCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scalars = append(d.scalars, cmds)
	return nil
}
func (d *fakeDevice) Rotate(context.Context, map[uint32]device.RotateCommand) error { return nil }
func (d *fakeDevice) Linear(context.Context, map[uint32]device.LinearCommand) error { return nil }

func (d *fakeDevice) scalarCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scalars)
}

type fakeClient struct {
	events chan device.Event
	mu     sync.Mutex
	scans  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan device.Event, 16)}
}

func (c *fakeClient) Events() <-chan device.Event { return c.events }
func (c *fakeClient) StartScanning(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans++
	return nil
}
func (c *fakeClient) StopScanning(context.Context) error { return nil }
func (c *fakeClient) Close() error                       { return nil }
func (c *fakeClient) scanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

type recordingFrontend struct {
	mu      sync.Mutex
	added   []ToySnapshot
	removed []uint32
	scans   []bool
}

func (f *recordingFrontend) ToyAdded(s ToySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, s)
}
func (f *recordingFrontend) ToyRemoved(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}
func (f *recordingFrontend) ScanStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, true)
}
func (f *recordingFrontend) ScanFinished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, false)
}
func (f *recordingFrontend) addedAt(i int) ToySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.added[i]
}
func (f *recordingFrontend) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}
func (f *recordingFrontend) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

func testEmitter() *dispatch.Emitter {
	return dispatch.NewEmitter(ratelimit.New(1_000_000), zerolog.Nop())
}

func rawToy(dev *fakeDevice, param string) *toy.Toy {
	t := toy.New(dev, toy.NoBattery(), 0)
	f := toy.NewFeature(param, 0, toy.Vibrator)
	f.OSCParameters = []toy.ToyParameter{toy.NewToyParameter(param, process.ModeRaw)}
	t.Table = toy.FeatureTable{Features: []toy.Feature{f}}
	return t
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func startSupervisor(t *testing.T, s *Supervisor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
}

func TestSupervisorStartStopLeavesNoDispatchers(t *testing.T) {
	s := NewSupervisor(testEmitter(), nil, zerolog.Nop())
	stop := startSupervisor(t, s)
	defer stop()

	dev := newFakeDevice(1, "A")
	s.Send(AddToy{Toy: rawToy(dev, "/avatar/parameters/Vibrator_0")})
	s.Send(StartListening{Net: oscin.Networking{}})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 1 })

	s.Send(StopListening{})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 0 })
}

func TestSupervisorRoutesSignalsWhileListening(t *testing.T) {
	ingestStarted := make(chan *dispatch.Broadcaster, 1)
	ingest := func(ctx context.Context, b *dispatch.Broadcaster, _ oscin.Networking) {
		ingestStarted <- b
		<-ctx.Done()
	}
	s := NewSupervisor(testEmitter(), ingest, zerolog.Nop())
	stop := startSupervisor(t, s)
	defer stop()

	dev := newFakeDevice(1, "A")
	s.Send(AddToy{Toy: rawToy(dev, "/avatar/parameters/Vibrator_0")})
	s.Send(StartListening{Net: oscin.Networking{}})

	var bcast *dispatch.Broadcaster
	select {
	case bcast = <-ingestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest task not started")
	}
	waitFor(t, func() bool { return s.ActiveDispatchers() == 1 })

	bcast.Send(dispatch.OSCSignal("/avatar/parameters/Vibrator_0", process.Float(0.4)))
	waitFor(t, func() bool { return dev.scalarCount() == 1 })

	s.Send(StopListening{})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 0 })
	if !bcast.Closed() {
		t.Fatal("broadcast should be closed after stop")
	}
}

func TestSupervisorAddAlterRemoveWhileListening(t *testing.T) {
	s := NewSupervisor(testEmitter(), nil, zerolog.Nop())
	stop := startSupervisor(t, s)
	defer stop()

	s.Send(StartListening{Net: oscin.Networking{}})

	devA := newFakeDevice(1, "A")
	s.Send(AddToy{Toy: rawToy(devA, "/avatar/parameters/Vibrator_0")})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 1 })

	devB := newFakeDevice(2, "B")
	s.Send(AddToy{Toy: rawToy(devB, "/avatar/parameters/Vibrator_0")})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 2 })

	s.Send(AlterToy{Toy: rawToy(devA, "/avatar/parameters/Renamed")})

	s.Send(RemoveToy{ID: 1})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 1 })

	s.Send(Reset{})
	waitFor(t, func() bool { return s.ActiveDispatchers() == 0 })
}

func TestToyMapCountByName(t *testing.T) {
	m := NewToyMap()
	m.Insert(rawToy(newFakeDevice(1, "Lush"), "/x"))
	m.Insert(rawToy(newFakeDevice(2, "Lush"), "/x"))
	m.Insert(rawToy(newFakeDevice(3, "Edge"), "/x"))

	if n := m.CountByName("Lush"); n != 2 {
		t.Fatalf("CountByName = %d, want 2", n)
	}
	if n := m.CountByName("Nora"); n != 0 {
		t.Fatalf("CountByName = %d, want 0", n)
	}
}

func newTestHandler(t *testing.T, client device.Client, cfg ConnectionConfig) (*ConnectionHandler, *Supervisor, *ToyMap, *recordingFrontend) {
	t.Helper()
	sup := NewSupervisor(testEmitter(), nil, zerolog.Nop())
	toys := NewToyMap()
	fe := &recordingFrontend{}
	store := toy.NewStore(t.TempDir(), zerolog.Nop())
	h := NewConnectionHandler(client, sup, store, toys, fe, nil, cfg, zerolog.Nop())
	return h, sup, toys, fe
}

func TestConnectionHandlerDeviceAdded(t *testing.T) {
	client := newFakeClient()
	h, sup, toys, fe := newTestHandler(t, client, ConnectionConfig{})
	stopSup := startSupervisor(t, sup)
	defer stopSup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: newFakeDevice(7, "Lovense Lush")}
	waitFor(t, func() bool { return fe.addedCount() == 1 })

	if toys.Len() != 1 {
		t.Fatalf("toy map has %d toys, want 1", toys.Len())
	}
	snap := fe.addedAt(0)
	if snap.ID != 7 || snap.Name != "Lovense Lush" || len(snap.Features) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.SubID != 0 {
		t.Fatalf("first toy of a name should have sub_id 0, got %d", snap.SubID)
	}

	// A duplicate of the same model gets the next sub id.
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: newFakeDevice(8, "Lovense Lush")}
	waitFor(t, func() bool { return fe.addedCount() == 2 })
	if fe.addedAt(1).SubID != 1 {
		t.Fatalf("duplicate should have sub_id 1, got %d", fe.addedAt(1).SubID)
	}

	cancel()
	<-done
}

func TestConnectionHandlerDeviceRemovedScansWhenConfigured(t *testing.T) {
	client := newFakeClient()
	h, sup, toys, fe := newTestHandler(t, client, ConnectionConfig{ScanOnDisconnect: true})
	stopSup := startSupervisor(t, sup)
	defer stopSup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	dev := newFakeDevice(7, "Lush")
	client.events <- device.Event{Kind: device.EventDeviceAdded, Device: dev}
	waitFor(t, func() bool { return fe.addedCount() == 1 })

	client.events <- device.Event{Kind: device.EventDeviceRemoved, Device: dev}
	waitFor(t, func() bool { return fe.removedCount() == 1 })
	waitFor(t, func() bool { return client.scanCount() == 1 })

	if toys.Len() != 0 {
		t.Fatalf("toy map should be empty, has %d", toys.Len())
	}
}

func TestConnectionHandlerExitsOnServerDisconnect(t *testing.T) {
	client := newFakeClient()
	h, sup, _, _ := newTestHandler(t, client, ConnectionConfig{})
	stopSup := startSupervisor(t, sup)
	defer stopSup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(context.Background())
	}()

	client.events <- device.Event{Kind: device.EventServerDisconnect}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler kept running after server disconnect")
	}
}
