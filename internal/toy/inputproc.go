package toy

import (
	"strings"

	"github.com/cbegin/hapticbridge-go/internal/process"
)

// InputProcessor is a pluggable pre-transform that runs before mode
// processing. It claims a set of OSC addresses and may fold several of them
// into one derived level. The returned mode state is owned by the processor
// so derived levels keep their own smoothing/rate history, separate from
// the feature's plain parameters.
type InputProcessor interface {
	Name() string
	Claims(addr string) bool
	// Process consumes one claimed sample. The second return is false when
	// the sample updates internal state without producing an output level.
	Process(addr string, in process.Input) (float64, bool)
	// Mode selects downstream processing for produced levels; ModeRaw means
	// emit directly.
	Mode() process.Mode
	State() *process.State
	Clone() InputProcessor
}

// DepthProcessor folds a group of contact parameters under one address
// prefix into a single depth level: the maximum of the latest value seen on
// each claimed address. Contact receivers report per-collider proximity, so
// the deepest contact is the one that should drive the actuator.
type DepthProcessor struct {
	prefix string
	mode   process.Mode
	state  *process.State
	levels map[string]float64
}

// NewDepthProcessor claims every address under prefix and post-processes
// derived levels with the given mode.
func NewDepthProcessor(prefix string, mode process.Mode) *DepthProcessor {
	return &DepthProcessor{
		prefix: prefix,
		mode:   mode,
		state:  process.NewState(mode),
		levels: make(map[string]float64),
	}
}

func (d *DepthProcessor) Name() string { return "depth" }

func (d *DepthProcessor) Claims(addr string) bool {
	return strings.HasPrefix(addr, d.prefix)
}

func (d *DepthProcessor) Process(addr string, in process.Input) (float64, bool) {
	v := in.FloatValue()
	if in.IsBool() {
		v = 0.0
		if in.BoolValue() {
			v = 1.0
		}
	}
	d.levels[addr] = v
	max := 0.0
	for _, lvl := range d.levels {
		if lvl > max {
			max = lvl
		}
	}
	return max, true
}

func (d *DepthProcessor) Mode() process.Mode     { return d.mode }
func (d *DepthProcessor) State() *process.State { return d.state }

func (d *DepthProcessor) Clone() InputProcessor {
	out := NewDepthProcessor(d.prefix, d.mode)
	out.state = d.state.Clone()
	for k, v := range d.levels {
		out.levels[k] = v
	}
	return out
}
