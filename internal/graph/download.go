package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// ErrNoDownloadURL is returned when a drive item has no pre-authenticated
// download URL. This is expected for folders and packages.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// Download streams the content of item to w and returns the bytes written.
// It resolves the item's @microsoft.graph.downloadUrl annotation and then
// reads from that URL without the bearer token.
func (c *Client) Download(ctx context.Context, item ItemLocation, w io.Writer) (int64, error) {
	c.logger.Info("downloading item", slog.String("item", item.String()))

	di, err := c.GetItem(ctx, item, option.NewObject[resource.DriveItem]())
	if err != nil {
		return 0, fmt.Errorf("graph: getting item for download: %w", err)
	}

	url, ok, err := resource.AnnotationValue(di, resource.DriveItemField.DownloadURL)
	if err != nil {
		return 0, protocolErr("download", "decoding download URL", err)
	}

	if !ok || url == "" {
		c.logger.Warn("item has no download URL",
			slog.String("item", item.String()),
			slog.Bool("is_folder", di.IsFolder()),
		)

		return 0, ErrNoDownloadURL
	}

	resp, err := c.Do(ctx, &Request{
		Op:              "download",
		Method:          http.MethodGet,
		URL:             url,
		Unauthenticated: true,
	})
	if err != nil {
		return 0, fmt.Errorf("graph: downloading %s: %w", item, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)

	attrs := []any{slog.String("item", item.String()), slog.Int64("bytes", n)}
	if err != nil {
		c.logger.Warn("download interrupted", append(attrs, slog.String("error", err.Error()))...)
		return n, &TransportError{Method: http.MethodGet, Err: fmt.Errorf("reading content of %s: %w", item, err)}
	}

	c.logger.Debug("download finished", attrs...)

	return n, nil
}
