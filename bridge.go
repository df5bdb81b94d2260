// Package hapticbridge routes avatar OSC parameters to haptic devices: an
// OSC ingest task fans samples out to one dispatcher per connected toy,
// each dispatcher shapes them through per-feature processing modes, and a
// shared rate limiter bounds the resulting device command stream.
package hapticbridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/dispatch"
	"github.com/cbegin/hapticbridge-go/internal/manager"
	"github.com/cbegin/hapticbridge-go/internal/oscin"
	"github.com/cbegin/hapticbridge-go/internal/ratelimit"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// EventKind identifies bridge events delivered through Watch.
const (
	EventToyAdd EventKind = iota
	EventToyRemove
	EventScanStart
	EventScanFinished
)

type EventKind int

// Event is one frontend notification. Toy is set for EventToyAdd, ToyID
// for EventToyRemove.
type Event struct {
	Kind  EventKind
	Toy   *manager.ToySnapshot
	ToyID uint32
}

type Option func(*bridgeConfig)

type bridgeConfig struct {
	settings Settings
	logger   zerolog.Logger
	notifier manager.Notifier
}

func defaultBridgeConfig() bridgeConfig {
	s := Settings{}
	s.Defaults()
	return bridgeConfig{settings: s, logger: zerolog.Nop()}
}

// WithSettings replaces the default settings; fields left at their zero
// value are filled in by Settings.Defaults.
func WithSettings(s Settings) Option {
	return func(cfg *bridgeConfig) {
		s.Defaults()
		cfg.settings = s
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(cfg *bridgeConfig) {
		cfg.logger = log
	}
}

// WithNotifier installs a desktop notifier for connect/disconnect events.
func WithNotifier(n manager.Notifier) Option {
	return func(cfg *bridgeConfig) {
		cfg.notifier = n
	}
}

// Bridge wires the device client, supervisor, connection handler and OSC
// tasks together behind one facade.
type Bridge struct {
	client   device.Client
	settings Settings
	log      zerolog.Logger
	limiter  *ratelimit.Limiter
	toys     *manager.ToyMap
	store    *toy.Store
	sup      *manager.Supervisor
	handler  *manager.ConnectionHandler
	battery  *manager.BatteryRefresher

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	eventChMu sync.Mutex
	eventCh   chan Event
}

// New builds a bridge around a connected device client.
func New(client device.Client, opts ...Option) (*Bridge, error) {
	if client == nil {
		return nil, errors.New("device client must not be nil")
	}
	cfg := defaultBridgeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bridge{
		client:   client,
		settings: cfg.settings,
		log:      cfg.logger,
		limiter:  ratelimit.New(cfg.settings.MaxCommandsPerSecond),
		toys:     manager.NewToyMap(),
		store:    toy.NewStore(cfg.settings.ConfigDir, cfg.logger),
	}

	emitter := dispatch.NewEmitter(b.limiter, cfg.logger)
	b.sup = manager.NewSupervisor(emitter, b.runIngest, cfg.logger)
	b.handler = manager.NewConnectionHandler(client, b.sup, b.store, b.toys, b, cfg.notifier, manager.ConnectionConfig{
		SettleDelay:          cfg.settings.settleDelay(),
		ScanOnDisconnect:     cfg.settings.ScanOnDisconnect,
		DesktopNotifications: cfg.settings.DesktopNotifications,
	}, cfg.logger)
	b.battery = manager.NewBatteryRefresher(b.toys, oscin.NewDataSender(cfg.settings.OSC), cfg.settings.batteryRefresh(), cfg.logger)
	return b, nil
}

func (b *Bridge) runIngest(ctx context.Context, bcast *dispatch.Broadcaster, netCfg oscin.Networking) {
	ingest := oscin.NewIngest(netCfg, bcast, b.log)
	if err := ingest.Run(ctx); err != nil {
		b.log.Error().Err(err).Msg("osc ingest failed")
	}
}

// Start launches the background tasks. The bridge runs until Stop or ctx
// cancellation.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("bridge already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.stopped = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.sup.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		b.handler.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		b.battery.Run(runCtx)
	}()
	stopped := b.stopped
	go func() {
		wg.Wait()
		close(stopped)
	}()
	return nil
}

// Stop cancels every task and waits for the supervisor, connection handler
// and battery refresher to finish. The OSC ingest task is cancelled but not
// waited for.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	stopped := b.stopped
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// StartListening starts routing OSC input to toys.
func (b *Bridge) StartListening() {
	b.sup.Send(manager.StartListening{Net: b.settings.OSC})
}

// StopListening tears down the dispatchers and returns to idle.
func (b *Bridge) StopListening() {
	b.sup.Send(manager.StopListening{})
}

// Reset stops listening and makes the supervisor forget every toy; while
// not listening it does nothing. The toy list returned by Toys is not
// cleared.
func (b *Bridge) Reset() {
	b.sup.Send(manager.Reset{})
}

// StartScanning asks the device layer to look for toys.
func (b *Bridge) StartScanning(ctx context.Context) error {
	if err := b.client.StartScanning(ctx); err != nil {
		return err
	}
	b.ScanStarted()
	return nil
}

// StopScanning stops a running device scan.
func (b *Bridge) StopScanning(ctx context.Context) error {
	return b.client.StopScanning(ctx)
}

// SetCommandRate replaces the global outbound command budget.
func (b *Bridge) SetCommandRate(maxPerSecond uint64) {
	b.limiter.UpdateRate(maxPerSecond)
}

// Toys snapshots every live toy for external observers.
func (b *Bridge) Toys() []manager.ToySnapshot {
	toys := b.toys.Snapshot()
	out := make([]manager.ToySnapshot, 0, len(toys))
	for _, t := range toys {
		out = append(out, manager.SnapshotToy(t))
	}
	return out
}

// AlterFeature applies a frontend feature edit to one toy, persists the
// new config and pushes the table to the toy's dispatcher.
func (b *Bridge) AlterFeature(toyID uint32, view toy.View) error {
	return b.alter(toyID, func(t *toy.Toy) error {
		if !t.Table.ApplyFeatureView(view) {
			return errors.New("no matching feature on toy")
		}
		return nil
	})
}

// SetOSCData toggles per-toy OSC data feedback.
func (b *Bridge) SetOSCData(toyID uint32, enabled bool) error {
	return b.alter(toyID, func(t *toy.Toy) error {
		t.OSCData = enabled
		return nil
	})
}

// SetAnatomy retags a toy.
func (b *Bridge) SetAnatomy(toyID uint32, anatomy toy.Anatomy) error {
	return b.alter(toyID, func(t *toy.Toy) error {
		t.Anatomy = anatomy
		return nil
	})
}

// SetEnabledByAnatomy bulk-toggles every toy with the given anatomy tag
// and returns how many toys changed.
func (b *Bridge) SetEnabledByAnatomy(anatomy toy.Anatomy, enabled bool) int {
	changed := 0
	for _, snap := range b.toys.Snapshot() {
		affected := false
		err := b.alter(snap.ID, func(t *toy.Toy) error {
			affected = t.SetEnabledByAnatomy(anatomy, enabled)
			return nil
		})
		if err == nil && affected {
			changed++
		}
	}
	return changed
}

var ErrUnknownToy = errors.New("unknown toy")

// alter mutates a clone of the toy, commits it to the live map, persists
// it and broadcasts the update.
func (b *Bridge) alter(toyID uint32, mutate func(*toy.Toy) error) error {
	next := b.toys.CloneOf(toyID)
	if next == nil {
		return ErrUnknownToy
	}
	if err := mutate(next); err != nil {
		return err
	}
	b.toys.Insert(next)
	if err := b.store.Save(toy.ConfigFromToy(next)); err != nil {
		b.log.Error().Err(err).Str("toy", next.Name).Msg("saving toy config failed")
	}
	b.sup.Send(manager.AlterToy{Toy: next.Clone()})
	return nil
}

// Watch returns the frontend event channel. The channel is buffered; slow
// consumers lose events rather than blocking the core. Only the most
// recent Watch channel receives events.
func (b *Bridge) Watch() <-chan Event {
	ch := make(chan Event, 16)
	b.eventChMu.Lock()
	b.eventCh = ch
	b.eventChMu.Unlock()
	return ch
}

func (b *Bridge) sendEvent(ev Event) {
	b.eventChMu.Lock()
	ch := b.eventCh
	b.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop the event
		}
	}
}

// ToyAdded implements manager.Frontend.
func (b *Bridge) ToyAdded(snap manager.ToySnapshot) {
	b.sendEvent(Event{Kind: EventToyAdd, Toy: &snap, ToyID: snap.ID})
}

// ToyRemoved implements manager.Frontend.
func (b *Bridge) ToyRemoved(id uint32) {
	b.sendEvent(Event{Kind: EventToyRemove, ToyID: id})
}

// ScanStarted implements manager.Frontend.
func (b *Bridge) ScanStarted() {
	b.sendEvent(Event{Kind: EventScanStart})
}

// ScanFinished implements manager.Frontend.
func (b *Bridge) ScanFinished() {
	b.sendEvent(Event{Kind: EventScanFinished})
}
