// Package config loads graphdrive's TOML configuration and resolves it into
// the values the CLI needs. Settings are layered: defaults, then the config
// file, then environment variables, then command-line flags.
package config

import "time"

// Config is the top-level structure of the config file. Every section is
// optional; unset keys keep their defaults.
type Config struct {
	Drive     DriveConfig     `toml:"drive"`
	Transfers TransfersConfig `toml:"transfers"`
	Copy      CopyConfig      `toml:"copy"`
	Listing   ListingConfig   `toml:"listing"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// DriveConfig selects the drive commands operate on. Location uses the
// forms "me", "user:<id>", "group:<id>", "site:<id>" or "drive:<id>".
type DriveConfig struct {
	Location string `toml:"location"`
}

// TransfersConfig controls uploads. chunk_size must be a multiple of 320 KiB.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	ParallelUploads int    `toml:"parallel_uploads"`
	MaxChunkRetries int    `toml:"max_chunk_retries"`
	SimpleUploadMax string `toml:"simple_upload_max"`
}

// CopyConfig controls how long the CLI waits between copy status polls.
type CopyConfig struct {
	PollInterval    string `toml:"poll_interval"`
	MaxPollInterval string `toml:"max_poll_interval"`
}

// ListingConfig controls collection paging.
type ListingConfig struct {
	PageSize int `toml:"page_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
	BaseURL   string `toml:"base_url"`
}

// CLIOverrides holds values from command-line flags. Empty strings mean
// the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	Drive      string
	LogLevel   string
}

// Resolved is the fully layered and parsed configuration.
type Resolved struct {
	ConfigPath string

	DriveLocation string
	// AccessToken, when set, bypasses the saved login.
	AccessToken string

	ChunkSize       int64
	ParallelUploads int
	MaxChunkRetries int
	SimpleUploadMax int64

	CopyPollInterval    time.Duration
	CopyMaxPollInterval time.Duration

	PageSize int

	LogLevel  string
	LogFormat string

	Timeout   time.Duration
	UserAgent string
	BaseURL   string

	TokenPath  string
	MirrorPath string
	SessionDir string
}
