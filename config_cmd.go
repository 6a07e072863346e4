package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	return cmd
}

// effectiveSetting is one line of `config show`.
type effectiveSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	c := cc.Cfg

	token := "(saved login)"
	if c.AccessToken != "" {
		token = "(from environment)"
	}

	settings := []effectiveSetting{
		{"config_file", c.ConfigPath},
		{"drive.location", c.DriveLocation},
		{"transfers.chunk_size", formatSize(c.ChunkSize)},
		{"transfers.parallel_uploads", strconv.Itoa(c.ParallelUploads)},
		{"transfers.max_chunk_retries", strconv.Itoa(c.MaxChunkRetries)},
		{"transfers.simple_upload_max", formatSize(c.SimpleUploadMax)},
		{"copy.poll_interval", c.CopyPollInterval.String()},
		{"copy.max_poll_interval", c.CopyMaxPollInterval.String()},
		{"listing.page_size", strconv.Itoa(c.PageSize)},
		{"logging.log_level", c.LogLevel},
		{"logging.log_format", c.LogFormat},
		{"network.timeout", c.Timeout.String()},
		{"network.user_agent", c.UserAgent},
		{"network.base_url", c.BaseURL},
		{"token", token},
		{"token_file", c.TokenPath},
		{"mirror_db", c.MirrorPath},
		{"session_dir", c.SessionDir},
	}

	if cc.JSON {
		return printJSON(cc.Stdout, settings)
	}

	rows := make([][]string, 0, len(settings))
	for _, s := range settings {
		rows = append(rows, []string{s.Key, s.Value})
	}

	printTable(cc.Stdout, []string{"KEY", "VALUE"}, rows)

	return nil
}
