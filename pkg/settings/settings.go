// Package settings manages persistent user settings for the extport CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/newtron-network/extport/pkg/config"
)

// Settings holds persistent user preferences
type Settings struct {
	// ConfigPath overrides the default agent configuration file
	ConfigPath string `json:"config_path,omitempty"`

	// StateFile overrides the state file named in the configuration
	StateFile string `json:"state_file,omitempty"`

	// DefaultNetwork is the network to attach to when --network is not specified
	DefaultNetwork string `json:"default_network,omitempty"`

	// User is recorded in audit events
	User string `json:"user,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "extport_settings.json"
	}
	return filepath.Join(home, ".extport", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the configuration file (with fallback)
func (s *Settings) GetConfigPath() string {
	if s.ConfigPath != "" {
		return s.ConfigPath
	}
	return config.DefaultPath()
}

// GetStateFile returns the state file override, or fallback when unset
func (s *Settings) GetStateFile(fallback string) string {
	if s.StateFile != "" {
		return s.StateFile
	}
	return fallback
}

// GetUser returns the audit user (falls back to $USER)
func (s *Settings) GetUser() string {
	if s.User != "" {
		return s.User
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// Set assigns a setting by its JSON key. It reports false for unknown keys.
func (s *Settings) Set(key, value string) bool {
	switch key {
	case "config_path":
		s.ConfigPath = value
	case "state_file":
		s.StateFile = value
	case "default_network":
		s.DefaultNetwork = value
	case "user":
		s.User = value
	default:
		return false
	}
	return true
}

// Keys lists the settable keys in display order.
func Keys() []string {
	return []string{"config_path", "state_file", "default_network", "user"}
}

// Get returns a setting by its JSON key.
func (s *Settings) Get(key string) string {
	switch key {
	case "config_path":
		return s.ConfigPath
	case "state_file":
		return s.StateFile
	case "default_network":
		return s.DefaultNetwork
	case "user":
		return s.User
	}
	return ""
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
