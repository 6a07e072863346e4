package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device code flow",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved sign-in",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the configured drive and the drives you can reach",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	drive, err := graph.ParseDriveLocation(cc.Cfg.DriveLocation)
	if err != nil {
		return err
	}

	// The device code prompt is shown even with --quiet.
	ts, err := graph.Login(cmd.Context(), graph.OAuthConfig(), cc.Cfg.TokenPath, cc.Cfg.DriveLocation,
		func(da graph.DeviceAuth) {
			fmt.Fprintf(cc.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
			fmt.Fprintf(cc.Stderr, "Enter code: %s\n", da.UserCode)
		}, cc.Logger)
	if err != nil {
		return err
	}

	d, err := cc.clientWith(drive, ts).GetDrive(cmd.Context(),
		option.NewObject[resource.Drive]().Select(resource.DriveField.ID, resource.DriveField.Name))
	if err != nil {
		cc.Logger.Warn("signed in but the drive is not reachable", slog.String("error", err.Error()))
		cc.Statusf("Login successful.\n")

		return nil
	}

	cc.Statusf("Login successful. Drive: %s (%s)\n", d.Name, d.ID)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := graph.Logout(cc.Cfg.TokenPath, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Drive  driveJSON   `json:"drive"`
	Drives []driveJSON `json:"drives"`
}

type driveJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DriveType  string `json:"drive_type"`
	Owner      string `json:"owner,omitempty"`
	QuotaUsed  int64  `json:"quota_used"`
	QuotaTotal int64  `json:"quota_total"`
}

func toDriveJSON(d *resource.Drive) driveJSON {
	out := driveJSON{ID: string(d.ID), Name: d.Name, DriveType: d.DriveType}

	if d.Owner != nil && d.Owner.User != nil {
		out.Owner = d.Owner.User.DisplayName
	}

	if d.Quota != nil {
		out.QuotaUsed, out.QuotaTotal = d.Quota.Used, d.Quota.Total
	}

	return out
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := cc.Client(ctx)
	if err != nil {
		return err
	}

	current, err := client.GetDrive(ctx, option.NewObject[resource.Drive]())
	if err != nil {
		return err
	}

	drives, err := client.ListDrives(ctx)
	if err != nil {
		return err
	}

	out := whoamiOutput{Drive: toDriveJSON(current), Drives: make([]driveJSON, 0, len(drives))}
	for i := range drives {
		out.Drives = append(out.Drives, toDriveJSON(&drives[i]))
	}

	if cc.JSON {
		return printJSON(cc.Stdout, out)
	}

	d := out.Drive
	fmt.Fprintf(cc.Stdout, "Drive:  %s (%s, %s)\n", d.Name, d.DriveType, d.ID)

	if d.Owner != "" {
		fmt.Fprintf(cc.Stdout, "Owner:  %s\n", d.Owner)
	}

	fmt.Fprintf(cc.Stdout, "Quota:  %s / %s\n", formatSize(d.QuotaUsed), formatSize(d.QuotaTotal))

	if len(out.Drives) > 0 {
		fmt.Fprintln(cc.Stdout)

		rows := make([][]string, 0, len(out.Drives))
		for _, d := range out.Drives {
			rows = append(rows, []string{d.Name, d.DriveType, d.ID})
		}

		printTable(cc.Stdout, []string{"NAME", "TYPE", "ID"}, rows)
	}

	return nil
}
