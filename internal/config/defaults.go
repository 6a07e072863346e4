package config

// Defaults used when neither the config file nor the environment sets a key.
const (
	defaultDriveLocation   = "me"
	defaultChunkSize       = "10MiB"
	defaultParallelUploads = 4
	defaultMaxChunkRetries = 5
	defaultSimpleUploadMax = "4MiB"
	defaultPollInterval    = "1s"
	defaultMaxPollInterval = "30s"
	defaultPageSize        = 200
	defaultLogLevel        = "warn"
	defaultLogFormat       = "auto"
	defaultTimeout         = "60s"
	defaultBaseURL         = "https://graph.microsoft.com/v1.0"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Drive: DriveConfig{Location: defaultDriveLocation},
		Transfers: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			ParallelUploads: defaultParallelUploads,
			MaxChunkRetries: defaultMaxChunkRetries,
			SimpleUploadMax: defaultSimpleUploadMax,
		},
		Copy: CopyConfig{
			PollInterval:    defaultPollInterval,
			MaxPollInterval: defaultMaxPollInterval,
		},
		Listing: ListingConfig{PageSize: defaultPageSize},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
			BaseURL: defaultBaseURL,
		},
	}
}
