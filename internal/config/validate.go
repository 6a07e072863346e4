package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tonimelisma/graphdrive/internal/graph"
)

const (
	chunkAlignBytes    = graph.ChunkAlignment
	maxChunkBytes      = 60 * mebibyte
	minParallelUploads = 1
	maxParallelUploads = 16
	maxChunkRetries    = 20
	minPageSize        = 1
	maxPageSize        = 999
	minTimeout         = time.Second
)

// Validate checks every value in cfg and returns all problems found, joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateCopy(&cfg.Copy)...)
	errs = append(errs, validateListing(&cfg.Listing)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateDrive(d *DriveConfig) []error {
	if _, err := graph.ParseDriveLocation(d.Location); err != nil {
		return []error{fmt.Errorf("drive.location: %w", err)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	errs = append(errs, validateChunkSize(t.ChunkSize)...)

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("transfers.parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	if t.MaxChunkRetries < 0 || t.MaxChunkRetries > maxChunkRetries {
		errs = append(errs, fmt.Errorf("transfers.max_chunk_retries: must be between 0 and %d, got %d",
			maxChunkRetries, t.MaxChunkRetries))
	}

	n, err := ParseSize(t.SimpleUploadMax)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("transfers.simple_upload_max: %w", err))
	case n > graph.SimpleUploadMaxSize:
		errs = append(errs, fmt.Errorf("transfers.simple_upload_max: must not exceed 4MiB, got %s", t.SimpleUploadMax))
	}

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("transfers.chunk_size: %w", err)}
	}

	if n < chunkAlignBytes || n > maxChunkBytes {
		return []error{fmt.Errorf("transfers.chunk_size: must be between 320KiB and 60MiB, got %s", s)}
	}

	if n%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"transfers.chunk_size: must be a multiple of 320 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, n)}
	}

	return nil
}

func validateCopy(c *CopyConfig) []error {
	var errs []error

	poll, err := parsePositiveDuration("copy.poll_interval", c.PollInterval)
	if err != nil {
		errs = append(errs, err)
	}

	maxPoll, err := parsePositiveDuration("copy.max_poll_interval", c.MaxPollInterval)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 && maxPoll < poll {
		errs = append(errs, fmt.Errorf("copy.max_poll_interval: %s is shorter than poll_interval %s",
			c.MaxPollInterval, c.PollInterval))
	}

	return errs
}

func validateListing(l *ListingConfig) []error {
	if l.PageSize < minPageSize || l.PageSize > maxPageSize {
		return []error{fmt.Errorf("listing.page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, l.PageSize)}
	}

	return nil
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	d, err := parsePositiveDuration("network.timeout", n.Timeout)

	switch {
	case err != nil:
		errs = append(errs, err)
	case d < minTimeout:
		errs = append(errs, fmt.Errorf("network.timeout: must be at least %s, got %s", minTimeout, n.Timeout))
	}

	u, err := url.Parse(n.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, fmt.Errorf("network.base_url: must be an absolute http(s) URL, got %q", n.BaseURL))
	}

	return errs
}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, s, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, s)
	}

	return d, nil
}
