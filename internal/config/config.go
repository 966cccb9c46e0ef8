// Package config loads the ambient service configuration: the pieces of
// spec.md §6 that are not the LUT INI file itself (control-plane port,
// log/data directories, default averaging parameters). It follows
// Sensor-Logger's utils.LoadSensorsConfig/LoadStorageConfig pattern: a
// single os.ReadFile + yaml.Unmarshal into a typed struct, read once at
// startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults mirror spec.md §6's "defaulting to 512 0 0 when omitted" for
// avging start. Path, port, and output-width defaults are set in
// applyDefaults.
const (
	DefaultNumIntegrations   = 512
	DefaultStartingQuadState = 0
	DefaultDoAvgImageDump    = false
)

// Config is the top-level structure for socketcam.yaml.
type Config struct {
	Server struct {
		Port           int `yaml:"port"`
		MessageBytes   int `yaml:"message_bytes"`
	} `yaml:"server"`

	Paths struct {
		LutConfigPath string `yaml:"lut_config_path"`
		DataRoot      string `yaml:"data_root"`
		LogDir        string `yaml:"log_dir"`
	} `yaml:"paths"`

	Averaging struct {
		NumIntegrations   int  `yaml:"num_integrations"`
		StartingQuadState int  `yaml:"starting_quad_state"`
		DoAvgImageDump    bool `yaml:"do_avg_image_dump"`
	} `yaml:"averaging"`

	Output struct {
		// Width selects the persistence narrowing law of spec.md §4.5/§8.5:
		// "16" (default, narrowed+re-centered) or "32" (raw unsigned path).
		Width int `yaml:"width"`
	} `yaml:"output"`
}

// Load reads and parses path, applying spec.md §6's defaults for any
// zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 2300
	}
	if c.Server.MessageBytes == 0 {
		c.Server.MessageBytes = 80
	}
	if c.Paths.DataRoot == "" {
		c.Paths.DataRoot = "."
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "./socketcamLogs"
	}
	if c.Averaging.NumIntegrations == 0 {
		c.Averaging.NumIntegrations = DefaultNumIntegrations
	}
	if c.Output.Width == 0 {
		c.Output.Width = 16
	}
}
