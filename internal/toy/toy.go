package toy

import (
	"encoding/json"
	"fmt"

	"github.com/cbegin/hapticbridge-go/internal/device"
)

// PowerKind distinguishes toys with a readable battery, toys whose battery
// read failed (retry later), and toys with no battery at all.
const (
	PowerNoBattery PowerKind = iota
	PowerPending
	PowerBattery
)

type PowerKind int

// Power is the power status of a toy. Level is meaningful only when Kind is
// PowerBattery and is in [0, 1].
type Power struct {
	Kind  PowerKind `json:"kind"`
	Level float64   `json:"level"`
}

func NoBattery() Power          { return Power{Kind: PowerNoBattery} }
func PendingBattery() Power     { return Power{Kind: PowerPending} }
func Battery(level float64) Power { return Power{Kind: PowerBattery, Level: level} }

func (p Power) String() string {
	switch p.Kind {
	case PowerPending:
		return "Pending"
	case PowerBattery:
		return fmt.Sprintf("%.0f%%", p.Level*100)
	}
	return "No battery"
}

func (k PowerKind) MarshalJSON() ([]byte, error) {
	switch k {
	case PowerPending:
		return json.Marshal("pending")
	case PowerBattery:
		return json.Marshal("battery")
	}
	return json.Marshal("no_battery")
}

func (k *PowerKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "pending":
		*k = PowerPending
	case "battery":
		*k = PowerBattery
	default:
		*k = PowerNoBattery
	}
	return nil
}

// Anatomy tags a toy with the body area it is worn on, so whole groups can
// be enabled or disabled together.
type Anatomy string

const (
	AnatomyNA        Anatomy = "NA"
	AnatomyAnus      Anatomy = "Anus"
	AnatomyBreasts   Anatomy = "Breasts"
	AnatomyButtocks  Anatomy = "Buttocks"
	AnatomyChest     Anatomy = "Chest"
	AnatomyClitoris  Anatomy = "Clitoris"
	AnatomyFace      Anatomy = "Face"
	AnatomyFeet      Anatomy = "Feet"
	AnatomyHands     Anatomy = "Hands"
	AnatomyLabia     Anatomy = "Labia"
	AnatomyMouth     Anatomy = "Mouth"
	AnatomyNipples   Anatomy = "Nipples"
	AnatomyPenis     Anatomy = "Penis"
	AnatomyPerineum  Anatomy = "Perineum"
	AnatomyTesticles Anatomy = "Testicles"
	AnatomyThighs    Anatomy = "Thighs"
	AnatomyVagina    Anatomy = "Vagina"
	AnatomyVulva     Anatomy = "Vulva"
)

// Toy is one connected device plus its feature table and bridge-side state.
// ID is assigned by the device layer and stable for the connection.
type Toy struct {
	ID        uint32
	Name      string
	Power     Power
	Connected bool
	Device    device.Device
	Table     FeatureTable
	OSCData   bool
	Listening bool
	SubID     uint8
	Anatomy   Anatomy
}

// New builds a toy around a device handle. The feature table starts empty;
// call Populate or apply a loaded config.
func New(dev device.Device, power Power, subID uint8) *Toy {
	return &Toy{
		ID:        dev.Index(),
		Name:      dev.Name(),
		Power:     power,
		Connected: dev.Connected(),
		Device:    dev,
		SubID:     subID,
		Anatomy:   AnatomyNA,
	}
}

// Populate builds the feature table from the device's advertised actuators,
// one feature per linear, rotate and scalar actuator; scalar actuators of
// unknown kind get no feature. Default OSC addresses follow the
// "/avatar/parameters/<Type>_<index>" convention.
func (t *Toy) Populate() {
	attrs := t.Device.Attributes()
	t.Table = FeatureTable{}

	for i := range attrs.Linears {
		idx := uint32(i)
		t.Table.Features = append(t.Table.Features,
			NewFeature(defaultParameter(Linear, idx), idx, Linear))
	}
	for i := range attrs.Rotators {
		idx := uint32(i)
		t.Table.Features = append(t.Table.Features,
			NewFeature(defaultParameter(Rotator, idx), idx, Rotator))
	}
	for i, sc := range attrs.Scalars {
		idx := uint32(i)
		var ftype FeatureType
		switch sc.Actuator {
		case device.ActuatorRotate:
			// Scalar-set rotator: commanded as a scalar, shown as a Rotator.
			ftype = ScalarRotator
		case device.ActuatorVibrate:
			ftype = Vibrator
		case device.ActuatorConstrict:
			ftype = Constrict
		case device.ActuatorInflate:
			ftype = Inflate
		case device.ActuatorOscillate:
			ftype = Oscillate
		case device.ActuatorPosition:
			ftype = Position
		default:
			continue
		}
		t.Table.Features = append(t.Table.Features,
			NewFeature(defaultParameter(ftype.Reported(), idx), idx, ftype))
	}
}

func defaultParameter(ftype FeatureType, index uint32) string {
	return fmt.Sprintf("/avatar/parameters/%s_%d", ftype, index)
}

// SetEnabledByAnatomy flips every feature's enabled flag when the toy's
// anatomy matches. Reports whether the toy was affected.
func (t *Toy) SetEnabledByAnatomy(anatomy Anatomy, enabled bool) bool {
	if t.Anatomy != anatomy {
		return false
	}
	for i := range t.Table.Features {
		t.Table.Features[i].Enabled = enabled
	}
	return true
}

// Clone deep-copies the toy so a dispatcher or snapshot can own it.
func (t *Toy) Clone() *Toy {
	out := *t
	out.Table = t.Table.Clone()
	return &out
}
