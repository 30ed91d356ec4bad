package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${ENV_VAR} references in
// the file are expanded from the environment before parsing; unset variables
// expand to the empty string.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	data = expandEnv(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required values and obviously broken settings.
func (c *Config) Validate() error {
	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}
	if len(c.Events.Names) == 0 {
		return fmt.Errorf("events.names must list at least one event name")
	}
	if c.Events.QueueDepth <= 0 {
		return fmt.Errorf("events.queue_depth must be positive, got %d", c.Events.QueueDepth)
	}
	if c.Events.Workers <= 0 {
		return fmt.Errorf("events.workers must be positive, got %d", c.Events.Workers)
	}
	if c.Events.ReadTimeout <= 0 {
		return fmt.Errorf("events.read_timeout must be positive, got %s", c.Events.ReadTimeout)
	}
	if c.Events.MaxDropped < 0 {
		return fmt.Errorf("events.max_dropped must not be negative, got %d", c.Events.MaxDropped)
	}
	if c.Events.MaxDroppedPings < 0 {
		return fmt.Errorf("events.max_dropped_pings must not be negative, got %d", c.Events.MaxDroppedPings)
	}
	if c.Status.Enabled && c.Status.Listen == "" {
		return fmt.Errorf("status.listen is required when status.enabled is true")
	}
	return nil
}

func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
