package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// BatterySender publishes a toy's battery level to the avatar side.
type BatterySender interface {
	SendBattery(name string, subID uint8, level float64) error
}

// BatteryRefresher periodically re-reads battery levels and, for toys with
// the osc_data toggle on, mirrors them back out over OSC.
type BatteryRefresher struct {
	toys     *ToyMap
	sender   BatterySender
	interval time.Duration
	log      zerolog.Logger
}

func NewBatteryRefresher(toys *ToyMap, sender BatterySender, interval time.Duration, log zerolog.Logger) *BatteryRefresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BatteryRefresher{
		toys:     toys,
		sender:   sender,
		interval: interval,
		log:      log.With().Str("component", "battery").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *BatteryRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *BatteryRefresher) refresh(ctx context.Context) {
	for _, snap := range r.toys.Snapshot() {
		if !snap.Device.HasBattery() || !snap.Device.Connected() {
			continue
		}
		level, err := snap.Device.BatteryLevel(ctx)
		if err != nil {
			r.log.Debug().Err(err).Str("toy", snap.Name).Msg("battery refresh failed")
			continue
		}
		r.toys.SetPower(snap.ID, toy.Battery(level))
		if snap.OSCData && r.sender != nil {
			if err := r.sender.SendBattery(toy.NormalizeName(snap.Name), snap.SubID, level); err != nil {
				r.log.Debug().Err(err).Str("toy", snap.Name).Msg("osc battery publish failed")
			}
		}
	}
}
