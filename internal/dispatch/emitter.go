package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/process"
	"github.com/cbegin/hapticbridge-go/internal/ratelimit"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// Emitter shapes a processed level into the right device command. All
// emitters share one rate limiter; commands that lose the gate are dropped,
// and device errors are logged and swallowed. Device health is tracked
// through the event stream, never through the command path.
type Emitter struct {
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

func NewEmitter(limiter *ratelimit.Limiter, log zerolog.Logger) *Emitter {
	return &Emitter{limiter: limiter, log: log.With().Str("component", "emitter").Logger()}
}

// Command sends one processed level to the actuator behind a feature.
func (e *Emitter) Command(ctx context.Context, dev device.Device, ftype toy.FeatureType, level float64, index uint32, flip bool, levels process.LevelTweaks) {
	if !e.limiter.CanSend() {
		e.log.Trace().Uint32("toy", dev.Index()).Msg("rate limited, dropping command")
		return
	}

	newLevel := process.ClampAndFlip(level, flip, levels)
	var err error
	switch ftype {
	case toy.Rotator:
		err = dev.Rotate(ctx, map[uint32]device.RotateCommand{
			index: {Speed: newLevel, Clockwise: true},
		})
	case toy.Linear:
		err = dev.Linear(ctx, map[uint32]device.LinearCommand{
			index: {Duration: levels.LinearPositionSpeed, Position: newLevel},
		})
	default:
		// Vibrator, Constrict, Oscillate, Position, Inflate and
		// ScalarRotator all travel through the scalar command set.
		err = dev.Scalar(ctx, map[uint32]device.ScalarCommand{
			index: {Level: newLevel, Actuator: ftype.Actuator()},
		})
	}
	if err != nil {
		e.log.Error().Err(err).
			Uint32("toy", dev.Index()).
			Uint32("feature", index).
			Stringer("type", ftype).
			Msg("device command failed")
	}
}
