package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig contains instance-specific configuration
type NodeConfig struct {
	ID       string `yaml:"id"`
	LockFile string `yaml:"lock_file"`
}

// MonitorConfig contains memory monitor configuration. The heartbeat
// period, debounce window and classifier thresholds are fixed constants of
// the core and deliberately absent here.
type MonitorConfig struct {
	// MemoryLimit overrides the enforced memory budget, e.g. "512MB".
	// Empty means use the host-reported limit.
	MemoryLimit string `yaml:"memory_limit"`

	// PressureSource selects how the host pressure axis is read:
	// "psi" (Linux /proc/pressure), "derived" (available-memory heuristic)
	// or "none".
	PressureSource string `yaml:"pressure_source"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`
	EnableConsole bool   `yaml:"enable_console"`
	EnableFile    bool   `yaml:"enable_file"`
	LogFile       string `yaml:"log_file"`
	BufferSize    int    `yaml:"buffer_size"`
	LogDir        string `yaml:"log_dir"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Set defaults
	config := &Config{
		Node: NodeConfig{
			ID:       "memwatch-1",
			LockFile: "/tmp/memwatch.lock",
		},
		Monitor: MonitorConfig{
			MemoryLimit:    "",
			PressureSource: "psi",
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			LogFile:       "",
			BufferSize:    256,
			LogDir:        "logs",
		},
	}

	// Try to read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id cannot be empty")
	}
	if !isValidPressureSource(c.Monitor.PressureSource) {
		return fmt.Errorf("invalid pressure source: %s", c.Monitor.PressureSource)
	}
	if c.Monitor.MemoryLimit != "" {
		if _, err := ParseSize(c.Monitor.MemoryLimit); err != nil {
			return fmt.Errorf("invalid memory limit: %w", err)
		}
	}
	if c.Logging.BufferSize < 0 {
		return fmt.Errorf("logging.buffer_size cannot be negative")
	}
	return nil
}

// MemoryLimitBytes returns the configured limit override in bytes, or zero
// when the host limit should be used.
func (c *Config) MemoryLimitBytes() uint64 {
	if c.Monitor.MemoryLimit == "" {
		return 0
	}
	bytes, err := ParseSize(c.Monitor.MemoryLimit)
	if err != nil {
		return 0
	}
	return bytes
}

// isValidPressureSource checks if the pressure source is supported
func isValidPressureSource(source string) bool {
	validSources := map[string]bool{
		"psi":     true, // Linux pressure stall information
		"derived": true, // Available-memory heuristic
		"none":    true, // Heartbeat only
	}
	return validSources[source]
}

// ParseSize converts a human-readable size like "512MB" or "8GB" to bytes.
func ParseSize(size string) (uint64, error) {
	s := strings.TrimSpace(strings.ToUpper(size))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := uint64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	return value * multiplier, nil
}
