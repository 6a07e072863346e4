package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

const idPrefix = "id:"

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Long: `List the children of a folder. Paths are absolute from the drive root;
"id:<item-id>" addresses an item by ID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLs,
	}

	cmd.Flags().StringSlice("select", nil, "fields to request, e.g. name,size,last_modified_date_time")

	return cmd
}

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}

	cmd.Flags().StringSlice("select", nil, "fields to request")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().BoolP("parents", "p", false, "create missing parent folders; existing folders are not an error")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder (moves it to the recycle bin)",
		Long: `Delete a file or folder. Folder deletion is recursive. Items go to the
recycle bin and can be restored from the web interface.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().String("if-match", "", "only delete if the item's eTag matches")

	return cmd
}

func newMvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <path> <destination>",
		Short: "Move or rename an item",
		Long: `Move or rename an item. A destination ending in "/" is a folder to move
into, keeping the name; otherwise its last segment is the new name.`,
		Args: cobra.ExactArgs(2),
		RunE: runMv,
	}

	cmd.Flags().String("if-match", "", "only move if the item's eTag matches")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: `Download a file ("-" writes to stdout)`,
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

// parseRemote turns a command-line argument into an item location. Paths
// are rooted at the drive root; a missing leading slash is added.
func parseRemote(arg string) (graph.ItemLocation, error) {
	if id, ok := strings.CutPrefix(arg, idPrefix); ok {
		if id == "" {
			return graph.ItemLocation{}, fmt.Errorf("%w: empty item ID", graph.ErrInvalidLocation)
		}

		return graph.ItemByID(resource.ItemID(id)), nil
	}

	if !strings.HasPrefix(arg, "/") {
		arg = "/" + arg
	}

	return graph.ItemByPath(arg)
}

// splitRemote splits an absolute remote path into its parent path and name.
func splitRemote(p string) (string, string) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	p = strings.TrimSuffix(p, "/")
	dir, name := path.Split(p)

	return dir, name
}

func itemSelect(cmd *cobra.Command) ([]resource.Selectable[resource.DriveItem], error) {
	names, err := cmd.Flags().GetStringSlice("select")
	if err != nil {
		return nil, err
	}

	fields := make([]resource.Selectable[resource.DriveItem], 0, len(names))

	for _, n := range names {
		f, err := resource.LookupDriveItemField(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("--select %q: %w", n, err)
		}

		fields = append(fields, f)
	}

	return fields, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	target := "/"
	if len(args) > 0 {
		target = args[0]
	}

	loc, err := parseRemote(target)
	if err != nil {
		return err
	}

	fields, err := itemSelect(cmd)
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	opt := option.NewCollection[resource.DriveItem]()
	if len(fields) > 0 {
		opt = opt.Select(fields...)
	}

	var items []resource.DriveItem

	for item, err := range client.ListChildren(loc, opt).All(ctx) {
		if err != nil {
			return err
		}

		items = append(items, item)
	}

	if cc.JSON {
		if items == nil {
			items = []resource.DriveItem{}
		}

		return printJSON(cc.Stdout, items)
	}

	printItems(cc.Stdout, items)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	loc, err := parseRemote(args[0])
	if err != nil {
		return err
	}

	fields, err := itemSelect(cmd)
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	opt := option.NewObject[resource.DriveItem]()
	if len(fields) > 0 {
		opt = opt.Select(fields...)
	}

	item, err := client.GetItem(ctx, loc, opt)
	if err != nil {
		return err
	}

	if cc.JSON {
		return printJSON(cc.Stdout, item)
	}

	printItemDetails(cc.Stdout, item)

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	parents, err := cmd.Flags().GetBool("parents")
	if err != nil {
		return err
	}

	full := strings.TrimSuffix(args[0], "/")
	if !strings.HasPrefix(full, "/") {
		full = "/" + full
	}

	if full == "/" {
		return errors.New("mkdir: the root folder always exists")
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	segments := strings.Split(strings.TrimPrefix(full, "/"), "/")
	if !parents {
		dir, _ := splitRemote(full)
		return createFolder(ctx, cc, client, dir, segments[len(segments)-1], false)
	}

	dir := "/"
	for _, seg := range segments {
		if err := createFolder(ctx, cc, client, dir, seg, true); err != nil {
			return err
		}

		dir = path.Join(dir, seg) + "/"
	}

	return nil
}

// createFolder creates name under the folder at dir. With existingOK an
// existing item of that name is accepted.
func createFolder(ctx context.Context, cc *CLIContext, client *graph.Client, dir, name string, existingOK bool) error {
	parent, err := graph.ItemByPath(dir)
	if err != nil {
		return err
	}

	fn, err := graph.NewFileName(name)
	if err != nil {
		return err
	}

	item, err := client.CreateFolder(ctx, parent, fn, graph.ConflictFail)
	if errors.Is(err, graph.ErrConflict) && existingOK {
		return nil
	}

	if err != nil {
		return err
	}

	cc.Statusf("Created %s\n", path.Join(dir, name))

	if cc.JSON {
		return printJSON(cc.Stdout, item)
	}

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	loc, err := parseRemote(args[0])
	if err != nil {
		return err
	}

	if loc == graph.Root() {
		return errors.New("rm: refusing to delete the drive root")
	}

	ifMatch, err := cmd.Flags().GetString("if-match")
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	if err := client.DeleteItem(ctx, loc, resource.Tag(ifMatch)); err != nil {
		return err
	}

	cc.Statusf("Deleted %s\n", loc)

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	src, err := parseRemote(args[0])
	if err != nil {
		return err
	}

	ifMatch, err := cmd.Flags().GetString("if-match")
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	dest := args[1]

	var (
		parentPath string
		newName    graph.FileName
	)

	if strings.HasSuffix(dest, "/") {
		parentPath = dest
	} else {
		var name string

		parentPath, name = splitRemote(dest)

		if newName, err = graph.NewFileName(name); err != nil {
			return err
		}
	}

	parentLoc, err := parseRemote(parentPath)
	if err != nil {
		return err
	}

	parent, err := client.GetItem(ctx, parentLoc,
		option.NewObject[resource.DriveItem]().Select(resource.DriveItemField.ID, resource.DriveItemField.Folder))
	if err != nil {
		return fmt.Errorf("resolving destination folder: %w", err)
	}

	if !parent.IsFolder() {
		return fmt.Errorf("destination %s is not a folder", parentPath)
	}

	ref := parent.Reference()

	item, err := client.MoveItem(ctx, src, &ref, newName, resource.Tag(ifMatch))
	if err != nil {
		return err
	}

	cc.Statusf("Moved %s to %s\n", src, itemPath(item))

	if cc.JSON {
		return printJSON(cc.Stdout, item)
	}

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	loc, err := parseRemote(args[0])
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	local := ""
	if len(args) > 1 {
		local = args[1]
	}

	if local == "-" {
		_, err := client.Download(ctx, loc, cc.Stdout)
		return err
	}

	if local == "" {
		_, name := splitRemote(args[0])
		if strings.HasPrefix(args[0], idPrefix) || name == "" {
			return errors.New("get: a local path is required when downloading by ID")
		}

		local = name
	}

	n, err := downloadToFile(ctx, client, loc, local)
	if err != nil {
		return err
	}

	cc.Statusf("Downloaded %s (%s)\n", local, formatSize(n))

	return nil
}

// downloadToFile writes the item to a temporary file next to local and
// renames it into place once complete.
func downloadToFile(ctx context.Context, client *graph.Client, loc graph.ItemLocation, local string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := client.Download(ctx, loc, tmp)
	closeErr := tmp.Close()

	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), local)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}

	return n, nil
}

func printItems(w io.Writer, items []resource.DriveItem) {
	rows := make([][]string, 0, len(items))

	for i := range items {
		item := &items[i]

		name := item.Name
		if item.IsFolder() {
			name += "/"
		}

		size := "-"
		if item.Size != nil && !item.IsFolder() {
			size = formatSize(*item.Size)
		}

		modified := "-"
		if item.LastModifiedDateTime != nil {
			modified = formatTime(*item.LastModifiedDateTime)
		}

		rows = append(rows, []string{name, size, modified})
	}

	printTable(w, []string{"NAME", "SIZE", "MODIFIED"}, rows)
}

func printItemDetails(w io.Writer, item *resource.DriveItem) {
	fmt.Fprintf(w, "Name:     %s\n", item.Name)
	fmt.Fprintf(w, "ID:       %s\n", item.ID)
	fmt.Fprintf(w, "Type:     %s\n", itemKind(item))

	if p := itemPath(item); p != "" {
		fmt.Fprintf(w, "Path:     %s\n", p)
	}

	if item.Size != nil {
		fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(*item.Size), *item.Size)
	}

	if item.LastModifiedDateTime != nil {
		fmt.Fprintf(w, "Modified: %s\n", item.LastModifiedDateTime.Format("2006-01-02 15:04:05 MST"))
	}

	if item.ETag != "" {
		fmt.Fprintf(w, "ETag:     %s\n", item.ETag)
	}

	if item.Folder != nil {
		fmt.Fprintf(w, "Children: %d\n", item.Folder.ChildCount)
	}

	if item.File != nil && item.File.MimeType != "" {
		fmt.Fprintf(w, "MIME:     %s\n", item.File.MimeType)
	}

	if item.WebURL != "" {
		fmt.Fprintf(w, "URL:      %s\n", item.WebURL)
	}
}
