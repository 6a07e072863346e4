package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "GRAPHDRIVE_CONFIG"
	EnvDrive       = "GRAPHDRIVE_DRIVE"
	EnvAccessToken = "GRAPHDRIVE_ACCESS_TOKEN" //nolint:gosec // variable name, not a credential
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath  string // GRAPHDRIVE_CONFIG: config file path
	Drive       string // GRAPHDRIVE_DRIVE: drive location
	AccessToken string // GRAPHDRIVE_ACCESS_TOKEN: bearer token to use instead of the saved login
}

// ReadEnvOverrides reads the environment.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		Drive:       os.Getenv(EnvDrive),
		AccessToken: os.Getenv(EnvAccessToken),
	}
}
