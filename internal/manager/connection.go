package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// ConnectionConfig tunes the connection handler.
type ConnectionConfig struct {
	// SettleDelay is how long to wait after DeviceAdded before reading
	// attributes; many devices advertise them incrementally.
	SettleDelay          time.Duration
	ScanOnDisconnect     bool
	DesktopNotifications bool
}

// ConnectionHandler consumes the device-layer event stream and keeps the
// live toy map, the supervisor and external observers in sync.
type ConnectionHandler struct {
	client   device.Client
	sup      *Supervisor
	store    *toy.Store
	toys     *ToyMap
	frontend Frontend
	notifier Notifier
	cfg      ConnectionConfig
	log      zerolog.Logger
}

func NewConnectionHandler(client device.Client, sup *Supervisor, store *toy.Store, toys *ToyMap, frontend Frontend, notifier Notifier, cfg ConnectionConfig, log zerolog.Logger) *ConnectionHandler {
	if frontend == nil {
		frontend = NopFrontend{}
	}
	return &ConnectionHandler{
		client:   client,
		sup:      sup,
		store:    store,
		toys:     toys,
		frontend: frontend,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "connection").Logger(),
	}
}

// Run consumes events until the stream ends, the server connection dies,
// or ctx is cancelled. Errors on the stream are logged and survived; only
// ServerDisconnect and PingTimeout are fatal.
func (h *ConnectionHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.client.Events():
			if !ok {
				h.log.Warn().Msg("device event stream closed")
				return
			}
			switch ev.Kind {
			case device.EventDeviceAdded:
				h.handleAdded(ctx, ev.Device)
			case device.EventDeviceRemoved:
				h.handleRemoved(ctx, ev.Device)
			case device.EventScanningFinished:
				h.log.Info().Msg("scanning finished")
				h.frontend.ScanFinished()
			case device.EventServerConnect:
				h.log.Info().Msg("server connected")
			case device.EventServerDisconnect:
				h.log.Warn().Msg("server disconnected, connection handler exiting")
				return
			case device.EventPingTimeout:
				h.log.Warn().Msg("ping timeout, connection handler exiting")
				return
			case device.EventError:
				h.log.Error().Err(ev.Err).Msg("device client error")
			}
		}
	}
}

func (h *ConnectionHandler) handleAdded(ctx context.Context, dev device.Device) {
	if dev == nil {
		return
	}
	if !h.settle(ctx) {
		return
	}

	power := toy.NoBattery()
	if dev.HasBattery() {
		if level, err := dev.BatteryLevel(ctx); err != nil {
			h.log.Warn().Err(err).Str("toy", dev.Name()).Msg("battery read failed")
			power = toy.PendingBattery()
		} else {
			power = toy.Battery(level)
		}
	}

	t := toy.New(dev, power, h.toys.CountByName(dev.Name()))

	cfg, err := h.store.Load(dev.Name())
	if err != nil {
		h.log.Warn().Err(err).Str("toy", dev.Name()).Msg("toy config unusable")
	}
	if !t.Apply(cfg) {
		t.Populate()
		if err := h.store.Save(toy.ConfigFromToy(t)); err != nil {
			h.log.Error().Err(err).Str("toy", t.Name).Msg("saving toy config failed")
		}
	}

	h.toys.Insert(t)
	h.sup.Send(AddToy{Toy: t.Clone()})
	h.frontend.ToyAdded(SnapshotToy(t))
	if h.cfg.DesktopNotifications && h.notifier != nil {
		h.notifier.Notify("Toy Connected", fmt.Sprintf("%s (%s)", t.Name, t.Power))
	}
	h.log.Info().Str("toy", t.Name).Uint32("id", t.ID).Uint8("sub_id", t.SubID).Msg("toy connected")
}

// settle waits out the post-add delay. Reports false when ctx died first.
func (h *ConnectionHandler) settle(ctx context.Context) bool {
	if h.cfg.SettleDelay <= 0 {
		return true
	}
	timer := time.NewTimer(h.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *ConnectionHandler) handleRemoved(ctx context.Context, dev device.Device) {
	if dev == nil {
		return
	}
	t := h.toys.Remove(dev.Index())
	if t == nil {
		return
	}

	h.sup.Send(RemoveToy{ID: dev.Index()})
	h.frontend.ToyRemoved(dev.Index())
	if h.cfg.DesktopNotifications && h.notifier != nil {
		h.notifier.Notify("Toy Disconnected", t.Name)
	}
	h.log.Info().Str("toy", t.Name).Uint32("id", t.ID).Msg("toy disconnected")

	if h.cfg.ScanOnDisconnect {
		h.log.Info().Msg("scan on disconnect enabled, starting scan")
		if err := h.client.StartScanning(ctx); err != nil {
			h.log.Error().Err(err).Msg("start scanning failed")
		} else {
			h.frontend.ScanStarted()
		}
	}
}
