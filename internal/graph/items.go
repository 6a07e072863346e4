package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// SimpleUploadMaxSize is the largest body accepted by UploadSmall.
// Larger files must go through an upload session.
const SimpleUploadMaxSize = 4 << 20

type createFolderRequest struct {
	Name             string           `json:"name"`
	Folder           struct{}         `json:"folder"`
	ConflictBehavior ConflictBehavior `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type moveItemRequest struct {
	ParentReference *resource.ItemReference `json:"parentReference,omitempty"`
	Name            string                  `json:"name,omitempty"`
}

func withQuery(u, query string) string {
	if query == "" {
		return u
	}

	return u + "?" + query
}

// GetItem fetches the metadata of item, shaped by opt.
func (c *Client) GetItem(
	ctx context.Context, item ItemLocation, opt option.Object[resource.DriveItem],
) (*resource.DriveItem, error) {
	c.logger.Debug("fetching item", slog.String("item", item.String()))

	resp, err := c.Do(ctx, &Request{
		Op:     "get_item",
		Method: http.MethodGet,
		URL:    withQuery(c.itemURL(item, ""), opt.Encode()),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: getting item %s: %w", item, err)
	}

	var di resource.DriveItem
	if err := decodeJSON("get_item", resp, &di); err != nil {
		return nil, err
	}

	return &di, nil
}

// GetItemIfNoneMatch fetches item unless its eTag still equals tag. The
// boolean is false, with a nil item, when the item is unchanged.
func (c *Client) GetItemIfNoneMatch(
	ctx context.Context, item ItemLocation, opt option.Object[resource.DriveItem], tag resource.Tag,
) (*resource.DriveItem, bool, error) {
	resp, err := c.Do(ctx, &Request{
		Op:     "get_item",
		Method: http.MethodGet,
		URL:    withQuery(c.itemURL(item, ""), opt.Encode()),
		Header: http.Header{"If-None-Match": {string(tag)}},
		Accept: []int{http.StatusNotModified},
	})
	if err != nil {
		return nil, false, fmt.Errorf("graph: getting item %s: %w", item, err)
	}

	if resp.StatusCode == http.StatusNotModified {
		drainClose(resp.Body)
		return nil, false, nil
	}

	var di resource.DriveItem
	if err := decodeJSON("get_item", resp, &di); err != nil {
		return nil, false, err
	}

	return &di, true, nil
}

// CreateFolder creates a folder named name inside parent.
func (c *Client) CreateFolder(
	ctx context.Context, parent ItemLocation, name FileName, cb ConflictBehavior,
) (*resource.DriveItem, error) {
	if name.IsZero() {
		return nil, misuse("create_folder", "empty folder name")
	}

	c.logger.Info("creating folder",
		slog.String("parent", parent.String()),
		slog.String("name", name.String()),
		slog.String("conflict_behavior", string(cb)),
	)

	body, err := jsonBody(createFolderRequest{Name: name.String(), ConflictBehavior: cb})
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, &Request{
		Op:     "create_folder",
		Method: http.MethodPost,
		URL:    c.itemURL(parent, "/children"),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: creating folder %q in %s: %w", name, parent, err)
	}

	var di resource.DriveItem
	if err := decodeJSON("create_folder", resp, &di); err != nil {
		return nil, err
	}

	return &di, nil
}

// ErrMoveNoChanges is returned when MoveItem is given neither a new parent
// nor a new name.
var ErrMoveNoChanges = errors.New("graph: MoveItem requires a new parent or a new name")

// MoveItem moves item under newParent, renames it, or both. A nil newParent
// keeps the current parent; a zero newName keeps the current name.
func (c *Client) MoveItem(
	ctx context.Context, item ItemLocation, newParent *resource.ItemReference, newName FileName, ifMatch resource.Tag,
) (*resource.DriveItem, error) {
	if newParent == nil && newName.IsZero() {
		return nil, ErrMoveNoChanges
	}

	c.logger.Info("moving item",
		slog.String("item", item.String()),
		slog.String("new_name", newName.String()),
	)

	body, err := jsonBody(moveItemRequest{ParentReference: newParent, Name: newName.String()})
	if err != nil {
		return nil, err
	}

	req := &Request{
		Op:     "move_item",
		Method: http.MethodPatch,
		URL:    c.itemURL(item, ""),
		Body:   body,
	}

	if ifMatch != "" {
		req.Header = http.Header{"If-Match": {string(ifMatch)}}
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("graph: moving %s: %w", item, err)
	}

	var di resource.DriveItem
	if err := decodeJSON("move_item", resp, &di); err != nil {
		return nil, err
	}

	return &di, nil
}

// DeleteItem moves item to the recycle bin. A non-empty ifMatch makes the
// delete conditional on the item's eTag.
func (c *Client) DeleteItem(ctx context.Context, item ItemLocation, ifMatch resource.Tag) error {
	c.logger.Info("deleting item", slog.String("item", item.String()))

	req := &Request{
		Op:     "delete_item",
		Method: http.MethodDelete,
		URL:    c.itemURL(item, ""),
	}

	if ifMatch != "" {
		req.Header = http.Header{"If-Match": {string(ifMatch)}}
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("graph: deleting %s: %w", item, err)
	}

	// 204 No Content. Drain so the connection is reused.
	drainClose(resp.Body)

	return nil
}

// UploadSmall uploads data as the content of item in a single request.
// data must not exceed SimpleUploadMaxSize.
func (c *Client) UploadSmall(
	ctx context.Context, item ItemLocation, data []byte, cb ConflictBehavior,
) (*resource.DriveItem, error) {
	if len(data) > SimpleUploadMaxSize {
		return nil, misuse("upload_small", "%d bytes exceeds the %d byte simple upload limit", len(data), SimpleUploadMaxSize)
	}

	c.logger.Info("uploading small file",
		slog.String("item", item.String()),
		slog.Int("size", len(data)),
	)

	q := url.Values{}
	if cb != "" {
		q.Set("@microsoft.graph.conflictBehavior", string(cb))
	}

	resp, err := c.Do(ctx, &Request{
		Op:     "upload_small",
		Method: http.MethodPut,
		URL:    withQuery(c.itemURL(item, "/content"), q.Encode()),
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: uploading %s: %w", item, err)
	}

	var di resource.DriveItem
	if err := decodeJSON("upload_small", resp, &di); err != nil {
		return nil, err
	}

	return &di, nil
}
