package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as a string like "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level string `json:"level,omitempty"` // debug, info, warn, error
	JSON  bool   `json:"json,omitempty"`  // JSON lines instead of styled text
}

// PresetConfig is a named, ready-to-run workflow.
type PresetConfig struct {
	Type       string `json:"type"`                 // "loop" or "pipeline"
	Structures int    `json:"structures,omitempty"` // loop: initial number of structures
	ItemID     string `json:"item_id,omitempty"`    // pipeline: item to process
	DBData     string `json:"db_data,omitempty"`    // pipeline: source database
	Steps      int    `json:"steps,omitempty"`      // pipeline: number of actions
	Failing    []int  `json:"failing,omitempty"`    // pipeline: actions configured to fail
}

// Config is the top-level configuration.
type Config struct {
	Concurrency  int                     `json:"concurrency,omitempty"`
	NodeTimeout  Duration                `json:"node_timeout,omitempty"`
	DatabasePath string                  `json:"database_path,omitempty"`
	MetricsAddr  string                  `json:"metrics_addr,omitempty"`
	Log          LogConfig               `json:"log"`
	Presets      map[string]PresetConfig `json:"presets,omitempty"`
}

// Preset types.
const (
	PresetLoop     = "loop"
	PresetPipeline = "pipeline"
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node_timeout cannot be negative")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	for name, p := range c.Presets {
		switch p.Type {
		case PresetLoop:
			if p.Structures < 1 {
				return fmt.Errorf("preset %q: structures must be at least 1", name)
			}
		case PresetPipeline:
			if p.ItemID == "" || p.DBData == "" {
				return fmt.Errorf("preset %q: item_id and db_data are required", name)
			}
		default:
			return fmt.Errorf("preset %q: unknown type %q", name, p.Type)
		}
	}
	return nil
}
