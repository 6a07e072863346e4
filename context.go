package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/config"
	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/transfer"
)

// CLIContext carries what every command needs: the resolved config, the
// logger and the output streams.
type CLIContext struct {
	Cfg    *config.Resolved
	Logger *slog.Logger
	JSON   bool
	Quiet  bool
	Stdout io.Writer
	Stderr io.Writer

	// newTokenSource is replaced in tests.
	newTokenSource func(ctx context.Context) (graph.TokenSource, error)
}

func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	cc := &CLIContext{
		Cfg:    cfg,
		JSON:   flagJSON,
		Quiet:  flagQuiet,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}

	cc.Logger = buildLogger(cc.Stderr, cfg.LogLevel, cfg.LogFormat)
	cc.newTokenSource = cc.savedTokenSource

	cc.Logger.Debug("config resolved",
		slog.String("config_path", cfg.ConfigPath),
		slog.String("drive", cfg.DriveLocation),
		slog.String("base_url", cfg.BaseURL),
	)

	return cc, nil
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Quiet {
		fmt.Fprintf(cc.Stderr, format, args...)
	}
}

// savedTokenSource prefers GRAPHDRIVE_ACCESS_TOKEN over the saved login.
func (cc *CLIContext) savedTokenSource(ctx context.Context) (graph.TokenSource, error) {
	if cc.Cfg.AccessToken != "" {
		cc.Logger.Debug("using access token from environment")
		return graph.StaticToken(cc.Cfg.AccessToken), nil
	}

	ts, err := graph.TokenSourceFromPath(ctx, graph.OAuthConfig(), cc.Cfg.TokenPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'graphdrive login' or set %s)", err, config.EnvAccessToken)
	}

	return ts, nil
}

// Client builds a Graph client for the configured drive.
func (cc *CLIContext) Client(ctx context.Context) (*graph.Client, error) {
	drive, err := graph.ParseDriveLocation(cc.Cfg.DriveLocation)
	if err != nil {
		return nil, err
	}

	// The token source outlives ctx, which ends with the command.
	ts, err := cc.newTokenSource(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	return cc.clientWith(drive, ts), nil
}

func (cc *CLIContext) clientWith(drive graph.DriveLocation, ts graph.TokenSource) *graph.Client {
	opts := []graph.ClientOption{graph.WithPageSize(cc.Cfg.PageSize)}
	if cc.Cfg.UserAgent != "" {
		opts = append(opts, graph.WithUserAgent(cc.Cfg.UserAgent))
	}

	httpClient := &http.Client{Timeout: cc.Cfg.Timeout}

	return graph.NewClient(cc.Cfg.BaseURL, drive, httpClient, ts, cc.Logger, opts...)
}

// Uploader builds an Uploader that persists sessions under the data dir.
func (cc *CLIContext) Uploader(client *graph.Client, conflict graph.ConflictBehavior) *transfer.Uploader {
	store := transfer.NewSessionStore(cc.Cfg.SessionDir, cc.Logger)
	if _, err := store.CleanStale(transfer.StaleSessionAge); err != nil {
		cc.Logger.Warn("failed to clean stale upload sessions", slog.String("error", err.Error()))
	}

	retries := cc.Cfg.MaxChunkRetries
	if retries == 0 {
		// A configured zero means no retries, not the uploader default.
		retries = -1
	}

	return transfer.NewUploader(client, store, transfer.Options{
		ChunkSize:       cc.Cfg.ChunkSize,
		MaxChunkRetries: retries,
		SimpleUploadMax: cc.Cfg.SimpleUploadMax,
		Conflict:        conflict,
	}, cc.Logger)
}

// showProgress reports whether progress bars should be drawn.
func (cc *CLIContext) showProgress() bool {
	return !cc.Quiet && !cc.JSON && isTerminal(cc.Stderr) && os.Getenv("TERM") != "dumb"
}
