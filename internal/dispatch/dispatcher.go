// Package dispatch carries OSC samples from the ingest broadcast to device
// commands. One Dispatcher goroutine runs per connected toy and owns that
// toy's feature table exclusively; edits arrive as Update signals on the
// same broadcast the OSC samples travel on.
package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/process"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// Dispatcher is the per-toy listening routine.
type Dispatcher struct {
	dev   device.Device
	sub   *Subscriber
	table toy.FeatureTable
	emit  *Emitter
	log   zerolog.Logger
}

func New(dev device.Device, sub *Subscriber, table toy.FeatureTable, emit *Emitter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dev:   dev,
		sub:   sub,
		table: table,
		emit:  emit,
		log:   log.With().Str("component", "dispatcher").Uint32("toy", dev.Index()).Logger(),
	}
}

// Run consumes broadcast signals until the device disconnects, the
// broadcast closes, or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for d.dev.Connected() {
		sig, err := d.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				d.log.Debug().Msg("broadcast gone, leaving listen loop")
				return
			}
			continue
		}
		switch {
		case sig.Msg != nil:
			d.handleOSC(ctx, sig.Msg)
		case sig.Update != nil:
			d.applyUpdate(sig.Update)
		}
	}
	d.log.Info().Msg("device disconnected, leaving listen loop")
}

// applyUpdate swallows edits addressed to other toys; the broadcast fans
// every update to every dispatcher.
func (d *Dispatcher) applyUpdate(t *toy.Toy) {
	if t.ID != d.dev.Index() {
		return
	}
	d.table = t.Table.Clone()
	d.log.Info().Msg("feature table replaced")
}

// handleOSC runs the two dispatch passes for one sample: input processors
// first, then plain parameter bindings. Both may emit for the same message.
func (d *Dispatcher) handleOSC(ctx context.Context, msg *OSCMessage) {
	arg := msg.Arg
	if !arg.IsBool() {
		arg = process.Float(process.Quantize(arg.FloatValue()))
	}

	for _, f := range d.table.FeaturesWithInputProcessors(msg.Addr) {
		derived, ok := f.InputProcessor.Process(msg.Addr, arg)
		if !ok {
			continue
		}
		if f.InputProcessor.Mode() == process.ModeRaw {
			d.emit.Command(ctx, d.dev, f.Type, derived, f.Index, f.FlipInput, f.Levels)
			continue
		}
		if out, ok := f.InputProcessor.State().Process(process.Float(derived), f.Levels, f.FlipInput); ok {
			d.emit.Command(ctx, d.dev, f.Type, out, f.Index, f.FlipInput, f.Levels)
		}
	}

	for _, f := range d.table.FeaturesForParam(msg.Addr) {
		// Only the first parameter bound to this address is processed.
		param := f.ParameterFor(msg.Addr)
		if out, ok := param.State.Process(arg, f.Levels, f.FlipInput); ok {
			d.emit.Command(ctx, d.dev, f.Type, out, f.Index, f.FlipInput, f.Levels)
		}
	}
}
