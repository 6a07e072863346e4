package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDrive      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagLogFormat  string
)

// dataDirOverride replaces config.DefaultDataDir in tests.
var dataDirOverride string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graphdrive",
		Short:   "OneDrive and SharePoint files from the command line",
		Long:    "A command-line client for OneDrive and SharePoint document libraries over Microsoft Graph.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagDrive, "drive", "", `drive to use: "me", "user:<id>", "group:<id>", "site:<id>" or "drive:<id>"`)
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: auto, text or json")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newLsCmd(),
		newStatCmd(),
		newMkdirCmd(),
		newRmCmd(),
		newMvCmd(),
		newGetCmd(),
		newPutCmd(),
		newCpCmd(),
		newChangesCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig resolves the effective configuration from defaults, the config
// file, the environment and the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Resolved, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("drive") {
		cli.Drive = flagDrive
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli, dataDirOverride)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates the process logger. The config level is the baseline;
// --verbose and --quiet override it. Logs always go to w, never stdout.
func buildLogger(w io.Writer, cfgLevel, cfgFormat string) *slog.Logger {
	level := slog.LevelWarn

	switch cfgLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := cfgFormat
	if flagLogFormat != "" {
		format = flagLogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format != "text" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. Its
// absence is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("graphdrive: command run without CLI context")
	}

	return cc
}
