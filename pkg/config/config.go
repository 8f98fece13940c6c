// Package config provides configuration management for the tensor engine.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/tensorgraph/engine/internal/layout"
)

// Config holds all configuration for the engine.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// EngineConfig holds compute-graph/backend configuration.
type EngineConfig struct {
	// Backend names the default backend new storages allocate on
	// (e.g. "cpu") when a tensor operation does not specify one.
	Backend string `mapstructure:"backend"`
	// GradMode seeds the graph's initial gradient-mode flag.
	GradMode bool `mapstructure:"grad_mode"`
	// MaxNodes is loaded and checked to be non-negative by Validate.
	// Neither the Engine nor the graph reads it, so it puts no limit on
	// the number of live graph nodes.
	MaxNodes int `mapstructure:"max_nodes"`
	// TensorDim is the maximum tensor rank layouts carry. It must equal
	// layout.TD, which is fixed at compile time; the field exists so a
	// deployed config can assert which build it's running against
	// rather than silently assuming one.
	TensorDim int `mapstructure:"tensor_dim"`
}

// TelemetryConfig holds a telemetry toggle loaded from the config file.
// Endpoint/protocol/sampling detail live in pkg/telemetry.Config, loaded
// separately from the environment. Nothing in this module reads Enabled:
// whether telemetry.Init installs an exporter is decided by the
// OTEL_ENABLED environment variable alone.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tensorgraph")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.backend", "cpu")
	v.SetDefault("engine.grad_mode", true)
	v.SetDefault("engine.max_nodes", 0)
	v.SetDefault("engine.tensor_dim", layout.TD)

	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.Backend == "" {
		return fmt.Errorf("engine backend is required")
	}
	if c.Engine.MaxNodes < 0 {
		return fmt.Errorf("engine max_nodes must be >= 0")
	}
	if c.Engine.TensorDim != layout.TD {
		return fmt.Errorf("engine tensor_dim %d does not match build's layout.TD %d", c.Engine.TensorDim, layout.TD)
	}
	return nil
}
