package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/mirror"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes [path]",
		Short: "Show changes since the last run and update the local mirror",
		Long: `Fetch the changes made under a folder (default: the drive root) since the
previous run, print them, and apply them to the local mirror database. The
first run, and any run after the server expires the saved token, lists every
item.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChanges,
	}

	cmd.Flags().Bool("reset", false, "forget the saved token and list everything")

	return cmd
}

// changeJSON is one line of `changes --json` output.
type changeJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Parent  string `json:"parent_id,omitempty"`
	Type    string `json:"type"`
	Size    int64  `json:"size,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func runChanges(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	target := "/"
	if len(args) > 0 {
		target = args[0]
	}

	root, err := parseRemote(target)
	if err != nil {
		return err
	}

	reset, err := cmd.Flags().GetBool("reset")
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cc.Cfg.MirrorPath), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	m, err := mirror.Open(ctx, cc.Cfg.MirrorPath, cc.Logger)
	if err != nil {
		return err
	}
	defer m.Close()

	scope := client.Drive().String() + "|" + root.String()

	if reset {
		if err := m.Reset(ctx, scope); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cc.Stdout)

	res, err := m.Sync(ctx, client, scope, root, func(item resource.DriveItem) {
		if cc.JSON {
			_ = enc.Encode(toChangeJSON(&item))
			return
		}

		fmt.Fprintln(cc.Stdout, formatChange(&item))
	})
	if err != nil {
		return err
	}

	kind := "incremental"
	if res.Full {
		kind = "full"
	}

	cc.Statusf("%s sync: %d updated, %d deleted, %d pages\n", kind, res.Upserted, res.Deleted, res.Pages)

	return nil
}

func toChangeJSON(item *resource.DriveItem) changeJSON {
	c := changeJSON{
		ID:      string(item.ID),
		Name:    item.Name,
		Type:    itemKind(item),
		Size:    item.SizeOrZero(),
		Deleted: item.IsDeleted(),
	}

	if item.ParentReference != nil {
		c.Parent = string(item.ParentReference.ID)
	}

	return c
}

func formatChange(item *resource.DriveItem) string {
	if item.IsDeleted() {
		return fmt.Sprintf("D  %s", describeChange(item))
	}

	return fmt.Sprintf("M  %s", describeChange(item))
}

func describeChange(item *resource.DriveItem) string {
	name := item.Name
	if p := itemPath(item); p != "" {
		name = p
	}

	if name == "" {
		return idPrefix + string(item.ID)
	}

	if item.IsFolder() {
		name += "/"
	}

	return name
}
