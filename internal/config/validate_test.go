package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad drive", func(c *Config) { c.Drive.Location = "bucket:1" }, "drive.location"},
		{"unaligned chunk", func(c *Config) { c.Transfers.ChunkSize = "10MB" }, "multiple of 320 KiB"},
		{"chunk too large", func(c *Config) { c.Transfers.ChunkSize = "100MiB" }, "between 320KiB and 60MiB"},
		{"chunk unparsable", func(c *Config) { c.Transfers.ChunkSize = "big" }, "transfers.chunk_size"},
		{"too many uploads", func(c *Config) { c.Transfers.ParallelUploads = 100 }, "parallel_uploads"},
		{"negative retries", func(c *Config) { c.Transfers.MaxChunkRetries = -1 }, "max_chunk_retries"},
		{"simple upload too big", func(c *Config) { c.Transfers.SimpleUploadMax = "5MiB" }, "simple_upload_max"},
		{"zero poll", func(c *Config) { c.Copy.PollInterval = "0s" }, "copy.poll_interval"},
		{"max below poll", func(c *Config) { c.Copy.MaxPollInterval = "100ms" }, "shorter than poll_interval"},
		{"page size", func(c *Config) { c.Listing.PageSize = 0 }, "listing.page_size"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"short timeout", func(c *Config) { c.Network.Timeout = "10ms" }, "at least 1s"},
		{"relative base url", func(c *Config) { c.Network.BaseURL = "graph/v1.0" }, "network.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AlignedChunkSizes(t *testing.T) {
	for _, s := range []string{"320KiB", "327680", "5MiB", "60MiB"} {
		cfg := DefaultConfig()
		cfg.Transfers.ChunkSize = s
		assert.NoError(t, Validate(cfg), s)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"0", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"320kib", 327680},
		{"10MB", 10_000_000},
		{"10MiB", 10_485_760},
		{"1.5GiB", 1_610_612_736},
		{"100B", 100},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "abc", "MB", "-1", "-2MB"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "network.timeout", closestMatch("network.timout", knownKeys))
	assert.Empty(t, closestMatch("completely.different", knownKeys))
	assert.Contains(t, knownKeys, "copy.max_poll_interval")
	assert.Len(t, knownKeys, 13)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "sitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
