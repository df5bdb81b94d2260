package hapticbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cbegin/hapticbridge-go/internal/oscin"
)

// Settings is the application configuration, persisted as one JSON file.
// Per-toy feature configs live in their own files under ConfigDir.
type Settings struct {
	OSC                  oscin.Networking `json:"networking"`
	ScanOnDisconnect     bool             `json:"scan_on_disconnect"`
	DesktopNotifications bool             `json:"desktop_notifications"`
	MaxCommandsPerSecond uint64           `json:"max_cmds_per_second"`
	// SettleDelayMS is how long to wait after a device connects before
	// reading its attributes; devices advertise them incrementally.
	// Negative disables the wait.
	SettleDelayMS int `json:"settle_delay_ms"`
	// BatteryRefreshSec is the interval between battery re-reads.
	BatteryRefreshSec int `json:"battery_refresh_sec"`
	// ConfigDir is where per-toy configs are stored. Not persisted; set by
	// the host.
	ConfigDir string `json:"-"`
}

// Defaults fills missing fields with reasonable defaults.
func (s *Settings) Defaults() {
	s.OSC.Defaults()
	if s.MaxCommandsPerSecond == 0 {
		s.MaxCommandsPerSecond = 10
	}
	if s.SettleDelayMS == 0 {
		s.SettleDelayMS = 3000
	}
	if s.BatteryRefreshSec == 0 {
		s.BatteryRefreshSec = 30
	}
	if s.ConfigDir == "" {
		s.ConfigDir = defaultConfigDir()
	}
}

func (s Settings) settleDelay() time.Duration {
	return time.Duration(s.SettleDelayMS) * time.Millisecond
}

func (s Settings) batteryRefresh() time.Duration {
	return time.Duration(s.BatteryRefreshSec) * time.Second
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hapticbridge")
	}
	return "hapticbridge-config"
}

// LoadSettings reads settings from path. A missing file yields defaults.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.Defaults()
			return s, nil
		}
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode settings %s: %w", path, err)
	}
	s.Defaults()
	return s, nil
}

// Save writes the settings to path, creating parent directories.
func (s Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}
