package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

type drivesListResponse struct {
	Value []resource.Drive `json:"value"`
}

// GetDrive fetches the metadata of the bound drive.
func (c *Client) GetDrive(ctx context.Context, opt option.Object[resource.Drive]) (*resource.Drive, error) {
	c.logger.Info("fetching drive", slog.String("drive", c.drive.String()))

	resp, err := c.Do(ctx, &Request{
		Op:     "get_drive",
		Method: http.MethodGet,
		URL:    withQuery(c.URL(c.drive.Path()), opt.Encode()),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: getting drive: %w", err)
	}

	var d resource.Drive
	if err := decodeJSON("get_drive", resp, &d); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched drive",
		slog.String("id", string(d.ID)),
		slog.String("drive_type", d.DriveType),
	)

	return &d, nil
}

// ListDrives returns all drives accessible to the signed-in user.
func (c *Client) ListDrives(ctx context.Context) ([]resource.Drive, error) {
	c.logger.Info("listing accessible drives")

	resp, err := c.Do(ctx, &Request{
		Op:     "list_drives",
		Method: http.MethodGet,
		URL:    c.URL("/me/drives"),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: listing drives: %w", err)
	}

	var dlr drivesListResponse
	if err := decodeJSON("list_drives", resp, &dlr); err != nil {
		return nil, err
	}

	c.logger.Info("listed drives", slog.Int("count", len(dlr.Value)))

	return dlr.Value, nil
}
