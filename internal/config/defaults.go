package config

// Default values for configuration options. Chosen so the client works
// against a local development server with no config file at all.
const (
	defaultServerURL         = "http://localhost:8080/api/v1"
	defaultRequestsPerSecond = 10
	defaultBurst             = 20
	defaultSyncInterval      = "5m"
	defaultTriggerDebounce   = "2s"
	defaultPushWorkers       = 4
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// defaultEntityOrder pushes patients before the prescriptions that
// reference them.
var defaultEntityOrder = []string{"patients", "prescriptions"}

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:               defaultServerURL,
			TokenPath:         DefaultTokenPath(),
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir(),
		},
		Sync: SyncConfig{
			EntityOrder:     append([]string(nil), defaultEntityOrder...),
			Interval:        defaultSyncInterval,
			TriggerDebounce: defaultTriggerDebounce,
			PushWorkers:     defaultPushWorkers,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
