package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "MEDSYNC_CONFIG"
	EnvServerURL = "MEDSYNC_SERVER_URL"
	EnvDataDir   = "MEDSYNC_DATA_DIR"
	EnvTokenPath = "MEDSYNC_TOKEN_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // MEDSYNC_CONFIG: override config file path
	ServerURL  string // MEDSYNC_SERVER_URL: record service base URL
	DataDir    string // MEDSYNC_DATA_DIR: local state directory
	TokenPath  string // MEDSYNC_TOKEN_PATH: credential file path
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		DataDir:    os.Getenv(EnvDataDir),
		TokenPath:  os.Getenv(EnvTokenPath),
	}
}
