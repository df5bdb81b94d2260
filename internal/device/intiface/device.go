package intiface

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cbegin/hapticbridge-go/internal/device"
)

// Device is one server-side device reachable through a Client. It is safe
// for concurrent use; commands serialize on the client's write lock.
type Device struct {
	client        *Client
	index         uint32
	name          string
	attrs         device.Attributes
	batterySensor int
	connected     atomic.Bool
}

func newDevice(c *Client, info deviceInfo) *Device {
	d := &Device{
		client:        c,
		index:         info.DeviceIndex,
		name:          info.DeviceName,
		attrs:         attributesFromWire(info.DeviceMessages),
		batterySensor: batterySensorIndex(info.DeviceMessages),
	}
	d.connected.Store(true)
	return d
}

func (d *Device) Index() uint32                 { return d.index }
func (d *Device) Name() string                  { return d.name }
func (d *Device) Connected() bool               { return d.connected.Load() }
func (d *Device) Attributes() device.Attributes { return d.attrs }
func (d *Device) HasBattery() bool              { return d.batterySensor >= 0 }

func (d *Device) setConnected(v bool) { d.connected.Store(v) }

// BatteryLevel reads the battery sensor and maps it into [0, 1].
func (d *Device) BatteryLevel(ctx context.Context) (float64, error) {
	if d.batterySensor < 0 {
		return 0, fmt.Errorf("device %d has no battery sensor", d.index)
	}
	reply, err := d.client.request(ctx, "SensorReadCmd", func(id uint32) any {
		return sensorReadCmd{
			ID:          id,
			DeviceIndex: d.index,
			SensorIndex: uint32(d.batterySensor),
			SensorType:  "Battery",
		}
	})
	if err != nil {
		return 0, err
	}
	var reading sensorReading
	if err := decodePayload(reply, &reading); err != nil {
		return 0, err
	}
	if len(reading.Data) == 0 {
		return 0, fmt.Errorf("device %d: empty battery reading", d.index)
	}
	return float64(reading.Data[0]) / 100.0, nil
}

func (d *Device) Scalar(ctx context.Context, cmds map[uint32]device.ScalarCommand) error {
	entries := make([]scalarEntry, 0, len(cmds))
	for index, cmd := range cmds {
		entries = append(entries, scalarEntry{
			Index:        index,
			Scalar:       cmd.Level,
			ActuatorType: cmd.Actuator.String(),
		})
	}
	_, err := d.client.request(ctx, "ScalarCmd", func(id uint32) any {
		return scalarCmd{ID: id, DeviceIndex: d.index, Scalars: entries}
	})
	return err
}

func (d *Device) Rotate(ctx context.Context, cmds map[uint32]device.RotateCommand) error {
	entries := make([]rotateEntry, 0, len(cmds))
	for index, cmd := range cmds {
		entries = append(entries, rotateEntry{
			Index:     index,
			Speed:     cmd.Speed,
			Clockwise: cmd.Clockwise,
		})
	}
	_, err := d.client.request(ctx, "RotateCmd", func(id uint32) any {
		return rotateCmd{ID: id, DeviceIndex: d.index, Rotations: entries}
	})
	return err
}

func (d *Device) Linear(ctx context.Context, cmds map[uint32]device.LinearCommand) error {
	entries := make([]linearEntry, 0, len(cmds))
	for index, cmd := range cmds {
		entries = append(entries, linearEntry{
			Index:    index,
			Duration: cmd.Duration,
			Position: cmd.Position,
		})
	}
	_, err := d.client.request(ctx, "LinearCmd", func(id uint32) any {
		return linearCmd{ID: id, DeviceIndex: d.index, Vectors: entries}
	})
	return err
}
