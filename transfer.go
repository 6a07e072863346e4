package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
	"github.com/tonimelisma/graphdrive/internal/transfer"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>... <remote-path>",
		Short: "Upload files",
		Long: `Upload one or more files. With a single file, a remote path ending in "/"
is a folder to upload into; otherwise it is the target file path. With several
files the remote path is always a folder. The root itself is not a file: use
"/" to upload into it.

Large files are uploaded in resumable chunks. An interrupted upload of the same
file to the same target resumes where it stopped.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runPut,
	}

	cmd.Flags().String("conflict", string(graph.ConflictReplace), "when the target exists: fail, replace or rename")
	cmd.Flags().Int("parallel", 0, "concurrent uploads for several files (default from config)")

	return cmd
}

func newCpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <path> <destination-folder>",
		Short: "Copy an item on the server",
		Long: `Start a server-side copy of an item into a folder. The copy runs
asynchronously; --wait follows it until it completes.`,
		Args: cobra.ExactArgs(2),
		RunE: runCp,
	}

	cmd.Flags().String("name", "", "name of the copy (default: the source name)")
	cmd.Flags().Bool("wait", false, "wait for the copy to finish")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	cbFlag, err := cmd.Flags().GetString("conflict")
	if err != nil {
		return err
	}

	cb, err := graph.ParseConflictBehavior(cbFlag)
	if err != nil {
		return err
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}

	if parallel <= 0 {
		parallel = cc.Cfg.ParallelUploads
	}

	locals, remote := args[:len(args)-1], args[len(args)-1]

	jobs, err := uploadJobs(locals, remote)
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	up := cc.Uploader(client, cb)

	if len(jobs) == 1 {
		return putOne(ctx, cc, up, jobs[0])
	}

	var mu sync.Mutex

	results, err := up.UploadAll(ctx, jobs, parallel, func(j transfer.Job, done, total int64) {
		if done != total {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		cc.Statusf("Uploaded %s (%s)\n", j.LocalPath, formatSize(total))
	})

	var failed []error

	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", r.Job.LocalPath, r.Err))
		}
	}

	if cc.JSON {
		if jerr := printJSON(cc.Stdout, uploadResultsJSON(results)); jerr != nil {
			return jerr
		}
	}

	if err != nil {
		return err
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d uploads failed: %w", len(failed), len(jobs), errors.Join(failed...))
	}

	return nil
}

func putOne(ctx context.Context, cc *CLIContext, up *transfer.Uploader, job transfer.Job) error {
	var progress transfer.ProgressFunc

	if cc.showProgress() {
		if info, err := os.Stat(job.LocalPath); err == nil {
			bar := transfer.NewProgressBar(cc.Stderr, info.Size(), filepath.Base(job.LocalPath))
			progress = transfer.BarProgress(bar)
		}
	}

	item, err := up.UploadFile(ctx, job.LocalPath, job.Target, progress)
	if err != nil {
		return err
	}

	cc.Statusf("Uploaded %s to %s (%s)\n", job.LocalPath, job.Target, formatSize(item.SizeOrZero()))

	if cc.JSON {
		return printJSON(cc.Stdout, item)
	}

	return nil
}

// uploadJobs maps local files to upload targets.
func uploadJobs(locals []string, remote string) ([]transfer.Job, error) {
	intoFolder := len(locals) > 1 || strings.HasSuffix(remote, "/")

	jobs := make([]transfer.Job, 0, len(locals))

	for _, local := range locals {
		target := remote
		if intoFolder {
			target = path.Join("/", remote, filepath.Base(local))
		}

		loc, err := parseRemote(target)
		if err != nil {
			return nil, err
		}

		if loc == graph.Root() {
			return nil, errors.New("put: the target must name a file")
		}

		jobs = append(jobs, transfer.Job{LocalPath: local, Target: loc})
	}

	return jobs, nil
}

type uploadResultJSON struct {
	Local  string `json:"local"`
	Target string `json:"target"`
	ID     string `json:"id,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Error  string `json:"error,omitempty"`
}

func uploadResultsJSON(results []transfer.Result) []uploadResultJSON {
	out := make([]uploadResultJSON, 0, len(results))

	for _, r := range results {
		j := uploadResultJSON{Local: r.Job.LocalPath, Target: r.Job.Target.String()}
		if r.Err != nil {
			j.Error = r.Err.Error()
		} else if r.Item != nil {
			j.ID, j.Size = string(r.Item.ID), r.Item.SizeOrZero()
		}

		out = append(out, j)
	}

	return out
}

func runCp(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	src, err := parseRemote(args[0])
	if err != nil {
		return err
	}

	destLoc, err := parseRemote(args[1])
	if err != nil {
		return err
	}

	nameFlag, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	var newName graph.FileName
	if nameFlag != "" {
		if newName, err = graph.NewFileName(nameFlag); err != nil {
			return err
		}
	}

	wait, err := cmd.Flags().GetBool("wait")
	if err != nil {
		return err
	}

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	dest, err := client.GetItem(ctx, destLoc, option.NewObject[resource.DriveItem]().Select(
		resource.DriveItemField.ID, resource.DriveItemField.Folder, resource.DriveItemField.ParentReference))
	if err != nil {
		return fmt.Errorf("resolving destination folder: %w", err)
	}

	if !dest.IsFolder() {
		return fmt.Errorf("destination %s is not a folder", args[1])
	}

	mon, err := client.CopyItem(ctx, src, dest.Reference(), newName)
	if err != nil {
		return err
	}

	if !wait {
		cc.Statusf("Copy of %s started.\n", src)
		return nil
	}

	done, err := transfer.WaitForCopy(ctx, mon, transfer.WaitOptions{
		Interval:    cc.Cfg.CopyPollInterval,
		MaxInterval: cc.Cfg.CopyMaxPollInterval,
		OnStatus: func(s graph.CopyStatus) {
			if p, ok := s.(graph.CopyInProgress); ok {
				cc.Statusf("Copying... %.0f%%\n", p.Percentage)
			}
		},
	}, cc.Logger)
	if err != nil {
		return err
	}

	if done.Item != nil {
		cc.Logger.Debug("copy produced item", slog.String("id", string(done.Item.ID)))
		cc.Statusf("Copy complete: id:%s\n", done.Item.ID)
	} else {
		cc.Statusf("Copy complete.\n")
	}

	if cc.JSON {
		id := ""
		if done.Item != nil {
			id = string(done.Item.ID)
		}

		return printJSON(cc.Stdout, map[string]string{"status": "completed", "id": id})
	}

	return nil
}
