package config

import "path/filepath"

// DefaultConfig returns the default configuration with the built-in presets.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:  4,
		DatabasePath: filepath.Join(".taskflow", "taskflow.db"),
		Log: LogConfig{
			Level: "info",
		},
		Presets: map[string]PresetConfig{
			"loop": {
				Type:       PresetLoop,
				Structures: 2,
			},
			"pipeline": {
				Type:   PresetPipeline,
				ItemID: "1",
				DBData: "items",
				Steps:  5,
			},
		},
	}
}
