// Package device defines the device-control client surface the bridge
// consumes: an event stream for connect/disconnect and per-device command
// methods. Implementations live elsewhere (see the intiface subpackage);
// the core only ever talks to these interfaces.
package device

import "context"

// ActuatorType mirrors the actuator kinds advertised by the device layer.
const (
	ActuatorVibrate ActuatorType = iota
	ActuatorRotate
	ActuatorConstrict
	ActuatorInflate
	ActuatorOscillate
	ActuatorPosition
	ActuatorUnknown
)

type ActuatorType int

func (a ActuatorType) String() string {
	switch a {
	case ActuatorVibrate:
		return "Vibrate"
	case ActuatorRotate:
		return "Rotate"
	case ActuatorConstrict:
		return "Constrict"
	case ActuatorInflate:
		return "Inflate"
	case ActuatorOscillate:
		return "Oscillate"
	case ActuatorPosition:
		return "Position"
	}
	return "Unknown"
}

// ScalarAttribute describes one scalar actuator on a device.
type ScalarAttribute struct {
	Index     uint32
	Actuator  ActuatorType
	StepCount uint32
}

// RotateAttribute describes one rotational actuator.
type RotateAttribute struct {
	Index     uint32
	StepCount uint32
}

// LinearAttribute describes one linear (stroker) actuator.
type LinearAttribute struct {
	Index     uint32
	StepCount uint32
}

// Attributes is the advertised actuator list of a device.
type Attributes struct {
	Scalars  []ScalarAttribute
	Rotators []RotateAttribute
	Linears  []LinearAttribute
}

// FeatureCount is the total number of addressable actuators. Persisted toy
// configs are only reused when their feature count matches this.
func (a Attributes) FeatureCount() int {
	return len(a.Scalars) + len(a.Rotators) + len(a.Linears)
}

// ScalarCommand sets one scalar actuator to a level with its actuator kind.
type ScalarCommand struct {
	Level    float64
	Actuator ActuatorType
}

// RotateCommand sets rotation speed and direction.
type RotateCommand struct {
	Speed     float64
	Clockwise bool
}

// LinearCommand moves a linear actuator to Position over Duration ms.
type LinearCommand struct {
	Duration uint32
	Position float64
}

// Device is one connected toy as seen by the device layer. Index is stable
// for the lifetime of the connection.
type Device interface {
	Index() uint32
	Name() string
	Connected() bool
	HasBattery() bool
	BatteryLevel(ctx context.Context) (float64, error)
	Attributes() Attributes

	Scalar(ctx context.Context, cmds map[uint32]ScalarCommand) error
	Rotate(ctx context.Context, cmds map[uint32]RotateCommand) error
	Linear(ctx context.Context, cmds map[uint32]LinearCommand) error
}

// EventKind tags device-layer lifecycle events.
const (
	EventDeviceAdded EventKind = iota
	EventDeviceRemoved
	EventScanningFinished
	EventServerConnect
	EventServerDisconnect
	EventPingTimeout
	EventError
)

type EventKind int

func (k EventKind) String() string {
	switch k {
	case EventDeviceAdded:
		return "DeviceAdded"
	case EventDeviceRemoved:
		return "DeviceRemoved"
	case EventScanningFinished:
		return "ScanningFinished"
	case EventServerConnect:
		return "ServerConnect"
	case EventServerDisconnect:
		return "ServerDisconnect"
	case EventPingTimeout:
		return "PingTimeout"
	case EventError:
		return "Error"
	}
	return "Unknown"
}

// Event is one device-layer notification. Device is set for DeviceAdded and
// DeviceRemoved, Err for Error.
type Event struct {
	Kind   EventKind
	Device Device
	Err    error
}

// Client is the device-control connection. Events terminates when the
// connection dies; ServerDisconnect/PingTimeout arrive first.
type Client interface {
	Events() <-chan Event
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	Close() error
}
