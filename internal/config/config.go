// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for medsync. It supports a three-layer
// override chain (defaults -> config file -> environment) with CLI flags
// applied by the command layer on top.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls how the client reaches the record service.
type ServerConfig struct {
	URL       string `toml:"url"`
	NotifyURL string `toml:"notify_url"` // websocket notification endpoint; empty disables it
	TokenPath string `toml:"token_path"`

	// Client-side request rate ceiling, shared across all workers.
	RequestsPerSecond int `toml:"requests_per_second"`
	Burst             int `toml:"burst"`
}

// StorageConfig controls where local state lives.
type StorageConfig struct {
	DataDir string `toml:"data_dir"` // holds the record database
}

// SyncConfig controls sync engine behavior.
type SyncConfig struct {
	// EntityOrder lists entity types in push dependency order: parents
	// before children, so a patient exists remotely before its
	// prescriptions reference it.
	EntityOrder []string `toml:"entity_order"`

	Interval        string `toml:"interval"`         // watch-mode cycle interval
	TriggerDebounce string `toml:"trigger_debounce"` // quiet window after a local mutation
	PushWorkers     int    `toml:"push_workers"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", or "json"
}
