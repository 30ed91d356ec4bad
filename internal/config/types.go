package config

import "time"

// Config represents the complete droverd configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Events  EventsConfig  `yaml:"events"`
	Status  StatusConfig  `yaml:"status,omitempty"`
	Journal JournalConfig `yaml:"journal,omitempty"`
}

// AgentConfig identifies this agent and its upstream.
type AgentConfig struct {
	// URL is the API base the agent subscribes against. A trailing
	// "/schemas" segment is tolerated and stripped.
	URL       string `yaml:"url"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	// AgentID namespaces subscribed event names to this agent instance.
	AgentID   string `yaml:"agent_id,omitempty"`
	LogLevel  string `yaml:"log_level"`
	StampPath string `yaml:"stamp_path,omitempty"`
	// PIDFile, when set, is flock'd at startup so only one instance
	// dispatches against the subscription.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// EventsConfig tunes the subscription loop and worker pool.
type EventsConfig struct {
	// Names are the event names to subscribe for.
	Names           []string      `yaml:"names"`
	QueueDepth      int           `yaml:"queue_depth"`
	Workers         int           `yaml:"workers"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxDropped      int           `yaml:"max_dropped"`
	MaxDroppedPings int           `yaml:"max_dropped_pings"`
}

// StatusConfig defines the local status/metrics HTTP server.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// JournalConfig defines local request-journal storage. An empty path
// disables the journal.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel: "INFO",
		},
		Events: EventsConfig{
			Names:           []string{"ping"},
			QueueDepth:      250,
			Workers:         20,
			ReadTimeout:     65 * time.Second,
			MaxDropped:      1000,
			MaxDroppedPings: 10,
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8114",
		},
	}
}
