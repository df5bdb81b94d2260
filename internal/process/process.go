package process

import (
	"math"
	"time"
)

// Mode selects how incoming samples are shaped before they reach an actuator.
const (
	ModeRaw Mode = iota
	ModeSmooth
	ModeRate
	ModeConstant
)

type Mode int

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "Raw"
	case ModeSmooth:
		return "Smooth"
	case ModeRate:
		return "Rate"
	case ModeConstant:
		return "Constant"
	}
	return "Unknown"
}

// Input is one OSC sample: either a float level or a boolean toggle.
type Input struct {
	f      float64
	b      bool
	isBool bool
}

func Float(v float64) Input { return Input{f: v} }
func Bool(b bool) Input     { return Input{b: b, isBool: true} }

func (in Input) IsBool() bool      { return in.isBool }
func (in Input) FloatValue() float64 { return in.f }
func (in Input) BoolValue() bool     { return in.b }

// LevelTweaks bounds and shapes a feature's output level.
// All level fields are in [0, 1].
type LevelTweaks struct {
	MinimumLevel        float64 `json:"minimum_level"`
	MaximumLevel        float64 `json:"maximum_level"`
	IdleLevel           float64 `json:"idle_level"`
	SmoothRate          float64 `json:"smooth_rate"`
	LinearPositionSpeed uint32  `json:"linear_position_speed"`
	RateTune            float64 `json:"rate_tune"`
	ConstantLevel       float64 `json:"constant_level"`
}

func DefaultLevelTweaks() LevelTweaks {
	return LevelTweaks{
		MinimumLevel:        0,
		MaximumLevel:        1,
		IdleLevel:           0,
		SmoothRate:          2,
		LinearPositionSpeed: 100,
		RateTune:            0.4,
		ConstantLevel:       0.5,
	}
}

// Normalized clamps all level fields into [0, 1] and swaps the band bounds
// when a config or frontend edit delivers them inverted.
func (l LevelTweaks) Normalized() LevelTweaks {
	l.MinimumLevel = clamp(l.MinimumLevel, 0, 1)
	l.MaximumLevel = clamp(l.MaximumLevel, 0, 1)
	l.IdleLevel = clamp(l.IdleLevel, 0, 1)
	l.ConstantLevel = clamp(l.ConstantLevel, 0, 1)
	if l.MinimumLevel > l.MaximumLevel {
		l.MinimumLevel, l.MaximumLevel = l.MaximumLevel, l.MinimumLevel
	}
	if l.SmoothRate < 1 {
		l.SmoothRate = 1
	}
	return l
}

// Quantize rounds a level to hundredths. Every OSC float is quantized once
// on receipt so downstream comparisons against 0.0 and 1.0 are exact.
func Quantize(v float64) float64 {
	return math.Round(v*100) / 100
}

// FlipFloat inverts a level, rounded to hundredths.
func FlipFloat(v float64) float64 {
	return math.Round((1.0-v)*100) / 100
}

// ClampAndFlip maps a processed level into the feature's configured band.
// A zero input parks the actuator at the idle level instead of clamping.
func ClampAndFlip(v float64, flip bool, levels LevelTweaks) float64 {
	var out float64
	if v == 0.0 {
		out = levels.IdleLevel
	} else {
		out = clamp(v, levels.MinimumLevel, levels.MaximumLevel)
	}
	if flip {
		out = FlipFloat(out)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// State carries the per-parameter processing state for one Mode. A State is
// owned by exactly one dispatcher goroutine and is never shared.
type State struct {
	Mode   Mode
	Smooth *SmoothState
	Rate   *RateState
}

// NewState allocates the state required by the given mode.
func NewState(m Mode) *State {
	s := &State{Mode: m}
	switch m {
	case ModeSmooth:
		s.Smooth = &SmoothState{}
	case ModeRate:
		s.Rate = &RateState{}
	}
	return s
}

// Clone deep-copies the state so a dispatcher can own it independently.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{Mode: s.Mode}
	if s.Smooth != nil {
		out.Smooth = &SmoothState{queue: append([]float64(nil), s.Smooth.queue...)}
	}
	if s.Rate != nil {
		r := *s.Rate
		out.Rate = &r
	}
	return out
}

// Process runs one sample through the state's mode. The second return is
// false when the sample should not be emitted: the smoother is still
// filling, or a boolean arrived on a float-only mode.
func (s *State) Process(in Input, levels LevelTweaks, flip bool) (float64, bool) {
	switch s.Mode {
	case ModeRaw:
		if in.IsBool() {
			if in.BoolValue() {
				return 1.0, true
			}
			return 0.0, true
		}
		return in.FloatValue(), true
	case ModeSmooth:
		if in.IsBool() {
			// Smoothing a toggle is meaningless; pair the mode with a float parameter.
			return 0, false
		}
		return s.Smooth.process(in.FloatValue(), levels, flip)
	case ModeRate:
		if in.IsBool() {
			return 0, false
		}
		return s.Rate.process(in.FloatValue(), levels.RateTune, flip), true
	case ModeConstant:
		if in.IsBool() {
			if in.BoolValue() {
				return levels.ConstantLevel, true
			}
			return 0.0, true
		}
		if in.FloatValue() >= 0.5 {
			return levels.ConstantLevel, true
		}
		return 0.0, true
	}
	return 0, false
}

// SmoothState averages bursts of SmoothRate samples to cut avatar jitter.
type SmoothState struct {
	queue []float64
}

func (st *SmoothState) QueueLen() int { return len(st.queue) }

// process implements the smoothing window. Zero-equivalent inputs (0.0, or
// 1.0 when the input is flipped) bypass the window so the toy stops
// immediately instead of ramping down through stale samples.
func (st *SmoothState) process(v float64, levels LevelTweaks, flip bool) (float64, bool) {
	zero := !flip && v == 0.0 || flip && v == 1.0
	if len(st.queue) == int(levels.SmoothRate) {
		if zero {
			// Restarting from zero; the queued burst is stale.
			st.queue = st.queue[:0]
		} else {
			var sum float64
			for _, q := range st.queue {
				sum += q
			}
			out := math.Round(sum/float64(len(st.queue))*100) / 100
			st.queue = st.queue[:0]
			st.queue = append(st.queue, out)
			return out, true
		}
	}
	if zero {
		return v, true
	}
	st.queue = append(st.queue, v)
	return 0, false
}

// RateState integrates movement magnitude into a sustained level that decays
// while input keeps arriving. Position does not matter, motion does.
type RateState struct {
	savedLevel float64
	savedInput float64
	lastTick   time.Time

	// Now is the clock used for decay ticks. Nil means time.Now.
	Now func() time.Time
}

func (st *RateState) Level() float64 { return st.savedLevel }

func (st *RateState) now() time.Time {
	if st.Now != nil {
		return st.Now()
	}
	return time.Now()
}

const rateTickInterval = 150 * time.Millisecond

func (st *RateState) process(v float64, tune float64, flip bool) float64 {
	now := st.now()
	if st.lastTick.IsZero() {
		st.lastTick = now
	}
	if !flip && v <= 0.0 || flip && v >= 1.0 {
		// Zero input stops the toy outright; the integrated level restarts
		// from the next motion.
		st.savedLevel = v
		st.savedInput = v
		return 0.0
	}
	st.savedLevel = clamp(st.savedLevel+math.Abs(v-st.savedInput), 0.0, 1.0)
	st.savedInput = v
	out := st.savedLevel
	if now.Sub(st.lastTick) >= rateTickInterval {
		st.savedLevel = clamp(st.savedLevel-tune, 0.0, 1.0)
		out = st.savedLevel
		st.lastTick = now
	}
	return out
}
