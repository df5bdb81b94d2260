package toy

import (
	"encoding/json"
	"fmt"

	"github.com/cbegin/hapticbridge-go/internal/device"
	"github.com/cbegin/hapticbridge-go/internal/process"
)

// FeatureType classifies one actuator on a toy. ScalarRotator is a rotator
// exposed through the scalar command set; it is dispatched as a scalar but
// reported to external observers as a plain Rotator.
const (
	Vibrator FeatureType = iota
	Rotator
	Linear
	Oscillate
	Constrict
	Inflate
	Position
	ScalarRotator
)

type FeatureType int

func (t FeatureType) String() string {
	switch t {
	case Vibrator:
		return "Vibrator"
	case Rotator:
		return "Rotator"
	case Linear:
		return "Linear"
	case Oscillate:
		return "Oscillate"
	case Constrict:
		return "Constrict"
	case Inflate:
		return "Inflate"
	case Position:
		return "Position"
	case ScalarRotator:
		return "ScalarRotator"
	}
	return "Unknown"
}

// Reported merges ScalarRotator into Rotator for external observers. Both
// tags are preserved internally so dispatch picks the right command set.
func (t FeatureType) Reported() FeatureType {
	if t == ScalarRotator {
		return Rotator
	}
	return t
}

func (t FeatureType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *FeatureType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Vibrator":
		*t = Vibrator
	case "Rotator":
		*t = Rotator
	case "Linear":
		*t = Linear
	case "Oscillate":
		*t = Oscillate
	case "Constrict":
		*t = Constrict
	case "Inflate":
		*t = Inflate
	case "Position":
		*t = Position
	case "ScalarRotator":
		*t = ScalarRotator
	default:
		return fmt.Errorf("unknown feature type %q", s)
	}
	return nil
}

// Actuator returns the device-layer actuator kind this feature commands.
func (t FeatureType) Actuator() device.ActuatorType {
	switch t {
	case Vibrator:
		return device.ActuatorVibrate
	case Rotator, ScalarRotator:
		return device.ActuatorRotate
	case Oscillate:
		return device.ActuatorOscillate
	case Constrict:
		return device.ActuatorConstrict
	case Inflate:
		return device.ActuatorInflate
	case Position:
		return device.ActuatorPosition
	}
	return device.ActuatorUnknown
}

// ToyParameter binds one OSC address to a feature, with its own processing
// mode and state. A feature may listen on several addresses at once.
type ToyParameter struct {
	Parameter string
	Mode      process.Mode
	State     *process.State
}

func NewToyParameter(parameter string, mode process.Mode) ToyParameter {
	return ToyParameter{Parameter: parameter, Mode: mode, State: process.NewState(mode)}
}

func (p ToyParameter) clone() ToyParameter {
	p.State = p.State.Clone()
	return p
}

// Feature is the processing unit for one actuator on one toy.
type Feature struct {
	Enabled        bool
	Type           FeatureType
	Index          uint32
	OSCParameters  []ToyParameter
	FlipInput      bool
	Levels         process.LevelTweaks
	InputProcessor InputProcessor
}

// NewFeature returns an enabled feature listening on parameter in Smooth
// mode with default tweaks, matching the auto-populate defaults.
func NewFeature(parameter string, index uint32, ftype FeatureType) Feature {
	return Feature{
		Enabled:       true,
		Type:          ftype,
		Index:         index,
		OSCParameters: []ToyParameter{NewToyParameter(parameter, process.ModeSmooth)},
		Levels:        process.DefaultLevelTweaks(),
	}
}

// ParameterFor returns the first ToyParameter listening on addr. When a
// feature lists the same address more than once only the first entry is
// used; later duplicates are dead. That first-match rule is inherited
// behaviour and kept as-is.
func (f *Feature) ParameterFor(addr string) *ToyParameter {
	for i := range f.OSCParameters {
		if f.OSCParameters[i].Parameter == addr {
			return &f.OSCParameters[i]
		}
	}
	return nil
}

func (f Feature) clone() Feature {
	params := make([]ToyParameter, len(f.OSCParameters))
	for i, p := range f.OSCParameters {
		params[i] = p.clone()
	}
	f.OSCParameters = params
	if f.InputProcessor != nil {
		f.InputProcessor = f.InputProcessor.Clone()
	}
	return f
}

// View is the feature shape shown to external observers.
type View struct {
	Enabled       bool                `json:"feature_enabled"`
	Type          FeatureType         `json:"feature_type"`
	OSCParameter  string              `json:"osc_parameter"`
	Index         uint32              `json:"feature_index"`
	FlipInput     bool                `json:"flip_input_float"`
	Levels        process.LevelTweaks `json:"feature_levels"`
	SmoothEnabled bool                `json:"smooth_enabled"`
	RateEnabled   bool                `json:"rate_enabled"`
}

// View flattens the feature for frontend reporting: ScalarRotator is
// reported as Rotator and only the first parameter binding is shown.
func (f Feature) View() View {
	v := View{
		Enabled:   f.Enabled,
		Type:      f.Type.Reported(),
		Index:     f.Index,
		FlipInput: f.FlipInput,
		Levels:    f.Levels,
	}
	if len(f.OSCParameters) > 0 {
		v.OSCParameter = f.OSCParameters[0].Parameter
		v.SmoothEnabled = f.OSCParameters[0].Mode == process.ModeSmooth
		v.RateEnabled = f.OSCParameters[0].Mode == process.ModeRate
	}
	return v
}

// ApplyView overwrites the user-editable fields from a frontend edit. The
// feature type stays fixed; letting the frontend change it could strand the
// actuator until reconnect.
func (f *Feature) ApplyView(v View) {
	f.Enabled = v.Enabled
	f.FlipInput = v.FlipInput
	f.Levels = v.Levels.Normalized()
	mode := process.ModeRaw
	if v.SmoothEnabled {
		mode = process.ModeSmooth
	} else if v.RateEnabled {
		mode = process.ModeRate
	}
	f.OSCParameters = []ToyParameter{NewToyParameter(v.OSCParameter, mode)}
}

// FeatureTable is the ordered feature list of one toy. A running dispatcher
// owns its own clone; edits travel through the broadcast, never by shared
// mutation.
type FeatureTable struct {
	Features []Feature
}

func (t *FeatureTable) Clone() FeatureTable {
	out := FeatureTable{Features: make([]Feature, len(t.Features))}
	for i, f := range t.Features {
		out.Features[i] = f.clone()
	}
	return out
}

// FeaturesForParam returns every enabled feature with a parameter bound to
// addr.
func (t *FeatureTable) FeaturesForParam(addr string) []*Feature {
	var out []*Feature
	for i := range t.Features {
		f := &t.Features[i]
		if f.Enabled && f.ParameterFor(addr) != nil {
			out = append(out, f)
		}
	}
	return out
}

// FeaturesWithInputProcessors returns every enabled feature whose input
// processor claims addr.
func (t *FeatureTable) FeaturesWithInputProcessors(addr string) []*Feature {
	var out []*Feature
	for i := range t.Features {
		f := &t.Features[i]
		if f.Enabled && f.InputProcessor != nil && f.InputProcessor.Claims(addr) {
			out = append(out, f)
		}
	}
	return out
}

// ApplyFeatureView edits the feature matching the view's index and type.
// A view reporting Rotator also matches a ScalarRotator feature, because
// observers only ever see the merged tag.
func (t *FeatureTable) ApplyFeatureView(v View) bool {
	applied := false
	for i := range t.Features {
		f := &t.Features[i]
		if f.Index == v.Index && f.Type.Reported() == v.Type.Reported() {
			f.ApplyView(v)
			applied = true
		}
	}
	return applied
}

// Views returns the frontend representation of every feature.
func (t *FeatureTable) Views() []View {
	out := make([]View, len(t.Features))
	for i, f := range t.Features {
		out[i] = f.View()
	}
	return out
}
