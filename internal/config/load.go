package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads, decodes and validates the TOML file at path. Unknown keys are
// fatal: a silently ignored typo is harder to debug than an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the layers defaults, file, environment, flags and parses
// the result. dataDir locates the token, mirror and session files; empty
// means DefaultDataDir.
func Resolve(env EnvOverrides, cli CLIOverrides, dataDir string) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.Drive != "" {
		cfg.Drive.Location = env.Drive
	}

	if cli.Drive != "" {
		cfg.Drive.Location = cli.Drive
	}

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	// Overrides are validated again; the file alone may have been valid.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	r := resolve(cfg)
	r.ConfigPath = cfgPath
	r.AccessToken = env.AccessToken
	r.TokenPath, r.MirrorPath, r.SessionDir = dataPaths(dataDir)

	return r, nil
}

// resolve converts a validated Config; parse errors are impossible here.
func resolve(cfg *Config) *Resolved {
	chunk, _ := ParseSize(cfg.Transfers.ChunkSize)
	simpleMax, _ := ParseSize(cfg.Transfers.SimpleUploadMax)
	poll, _ := time.ParseDuration(cfg.Copy.PollInterval)
	maxPoll, _ := time.ParseDuration(cfg.Copy.MaxPollInterval)
	timeout, _ := time.ParseDuration(cfg.Network.Timeout)

	return &Resolved{
		DriveLocation:       cfg.Drive.Location,
		ChunkSize:           chunk,
		ParallelUploads:     cfg.Transfers.ParallelUploads,
		MaxChunkRetries:     cfg.Transfers.MaxChunkRetries,
		SimpleUploadMax:     simpleMax,
		CopyPollInterval:    poll,
		CopyMaxPollInterval: maxPoll,
		PageSize:            cfg.Listing.PageSize,
		LogLevel:            cfg.Logging.LogLevel,
		LogFormat:           cfg.Logging.LogFormat,
		Timeout:             timeout,
		UserAgent:           cfg.Network.UserAgent,
		BaseURL:             cfg.Network.BaseURL,
	}
}
