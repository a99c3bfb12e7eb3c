// internal/config/config.go
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application's resolved paths and user settings.
type Config struct {
	HomeDir      string
	CadpilotDir  string
	DatabasePath string
	LogDir       string
	SettingsPath string

	Settings Settings
}

// Settings is the user-editable YAML settings file.
type Settings struct {
	CompilerPath     string `yaml:"compiler_path,omitempty"`
	AgentBinaryPath  string `yaml:"agent_binary_path,omitempty"`
	MaxCheckpoints   int    `yaml:"max_checkpoints,omitempty"`
	CompileTimeoutMs int    `yaml:"compile_timeout_ms,omitempty"`
	AgentMaxTurns    int    `yaml:"agent_max_turns,omitempty"`
}

// Load resolves paths, ensures directories exist, and reads settings.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	cadpilotDir := filepath.Join(home, ".cadpilot")
	logDir := filepath.Join(cadpilotDir, "logs")

	for _, dir := range []string{cadpilotDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		HomeDir:      home,
		CadpilotDir:  cadpilotDir,
		DatabasePath: filepath.Join(cadpilotDir, "cadpilot.db"),
		LogDir:       logDir,
		SettingsPath: filepath.Join(cadpilotDir, "settings.yaml"),
	}

	settings, err := readSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	cfg.Settings = settings

	return cfg, nil
}

// readSettings reads the YAML settings file; a missing file yields
// defaults.
func readSettings(path string) (Settings, error) {
	var settings Settings

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

// SaveSettings writes the settings back to disk.
func (c *Config) SaveSettings() error {
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return err
	}
	return os.WriteFile(c.SettingsPath, data, 0644)
}
