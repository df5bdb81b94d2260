package toy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/process"
)

// Config is the persisted per-toy feature configuration, keyed by the
// normalised toy name. One JSON file per toy under <dir>/ToyConfigs.
type Config struct {
	ToyName  string          `json:"toy_name"`
	Features []FeatureConfig `json:"features"`
	OSCData  bool            `json:"osc_data"`
	Anatomy  Anatomy         `json:"anatomy"`
}

// FeatureConfig is the on-disk shape of one feature.
type FeatureConfig struct {
	Enabled       bool                `json:"feature_enabled"`
	Type          FeatureType         `json:"feature_type"`
	OSCParameter  string              `json:"osc_parameter"`
	Index         uint32              `json:"feature_index"`
	FlipInput     bool                `json:"flip_input_float"`
	Levels        process.LevelTweaks `json:"feature_levels"`
	SmoothEnabled bool                `json:"smooth_enabled"`
	RateEnabled   bool                `json:"rate_enabled"`
}

// ErrConfigCorrupt marks a config file that exists but cannot be decoded.
// Callers treat it as "no config" and repopulate.
var ErrConfigCorrupt = errors.New("toy config unreadable")

// Store reads and writes per-toy configs below a base directory.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{dir: dir, log: log.With().Str("component", "toyconfig").Logger()}
}

// NormalizeName maps Lovense Connect device names onto their bluetooth
// names so both connection paths share one config file.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, "Lovense Connect ", "Lovense ")
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, "ToyConfigs", NormalizeName(name)+".json")
}

// Load returns the stored config for a toy name. A missing file returns
// (nil, nil); an undecodable file returns ErrConfigCorrupt.
func (s *Store) Load(name string) (*Config, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read toy config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Warn().Str("path", path).Err(err).Msg("toy config failed to decode, will repopulate")
		return nil, fmt.Errorf("%w: %s", ErrConfigCorrupt, path)
	}
	s.log.Debug().Str("toy", name).Msg("loaded toy config")
	return &cfg, nil
}

// Save writes the config for its toy name, creating the directory on first
// use.
func (s *Store) Save(cfg *Config) error {
	path := s.path(cfg.ToyName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode toy config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write toy config %s: %w", path, err)
	}
	s.log.Info().Str("toy", cfg.ToyName).Str("path", path).Msg("saved toy config")
	return nil
}

// ConfigFromToy snapshots a toy's current table into its on-disk shape.
func ConfigFromToy(t *Toy) *Config {
	cfg := &Config{
		ToyName: t.Name,
		OSCData: t.OSCData,
		Anatomy: t.Anatomy,
	}
	for _, f := range t.Table.Features {
		fc := FeatureConfig{
			Enabled:   f.Enabled,
			Type:      f.Type,
			Index:     f.Index,
			FlipInput: f.FlipInput,
			Levels:    f.Levels,
		}
		if len(f.OSCParameters) > 0 {
			fc.OSCParameter = f.OSCParameters[0].Parameter
			fc.SmoothEnabled = f.OSCParameters[0].Mode == process.ModeSmooth
			fc.RateEnabled = f.OSCParameters[0].Mode == process.ModeRate
		}
		cfg.Features = append(cfg.Features, fc)
	}
	return cfg
}

// Apply installs a loaded config onto the toy, but only when the stored
// feature count matches the connected device's advertised actuator count.
// A mismatch means the user switched connection paths (or the device now
// advertises differently); the caller should repopulate and rewrite.
func (t *Toy) Apply(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	if len(cfg.Features) != t.Device.Attributes().FeatureCount() {
		return false
	}
	t.Table = FeatureTable{}
	for _, fc := range cfg.Features {
		mode := process.ModeRaw
		if fc.SmoothEnabled {
			mode = process.ModeSmooth
		} else if fc.RateEnabled {
			mode = process.ModeRate
		}
		t.Table.Features = append(t.Table.Features, Feature{
			Enabled:       fc.Enabled,
			Type:          fc.Type,
			Index:         fc.Index,
			OSCParameters: []ToyParameter{NewToyParameter(fc.OSCParameter, mode)},
			FlipInput:     fc.FlipInput,
			Levels:        fc.Levels.Normalized(),
		})
	}
	t.OSCData = cfg.OSCData
	t.Anatomy = cfg.Anatomy
	return true
}
