package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

type copyItemRequest struct {
	ParentReference resource.ItemReference `json:"parentReference"`
	Name            string                 `json:"name,omitempty"`
}

// asyncJobStatus is the body served by a copy monitor URL.
type asyncJobStatus struct {
	Status             string                `json:"status"`
	PercentageComplete *float64              `json:"percentageComplete"`
	ResourceID         resource.ItemID       `json:"resourceId"`
	Error              *resource.ErrorObject `json:"error"`
}

// CopyStatus is the state of a server-side copy. It is one of CopyNotStarted,
// CopyInProgress, CopyCompleted or CopyFailed.
type CopyStatus interface {
	// Terminal reports whether the copy will not change state again.
	Terminal() bool
	copyStatus()
}

// CopyNotStarted means the copy is queued.
type CopyNotStarted struct{}

// CopyInProgress means the copy is running. Percentage is informational and
// not guaranteed to increase between polls.
type CopyInProgress struct {
	Percentage float64
}

// CopyCompleted means the copy finished. Item carries at least the new
// item's ID when the server reported one.
type CopyCompleted struct {
	Item *resource.DriveItem
	// Location is the resource URL from a 303 response, if any.
	Location string
}

// CopyFailed means the copy ended with an error.
type CopyFailed struct {
	Error *resource.ErrorObject
}

func (CopyNotStarted) Terminal() bool { return false }
func (CopyInProgress) Terminal() bool { return false }
func (CopyCompleted) Terminal() bool  { return true }
func (CopyFailed) Terminal() bool     { return true }

func (CopyNotStarted) copyStatus() {}
func (CopyInProgress) copyStatus() {}
func (CopyCompleted) copyStatus()  {}
func (CopyFailed) copyStatus()     {}

// CopyProgressMonitor polls the status of a server-side copy. Each Poll sends
// exactly one GET; the caller chooses the interval. Once a terminal status
// has been observed, further polls are refused without contacting the server.
type CopyProgressMonitor struct {
	client     *Client
	monitorURL string
	last       CopyStatus
}

// CopyItem starts copying source into the folder dest, optionally under
// newName (zero keeps the source name), and returns a monitor for it.
func (c *Client) CopyItem(
	ctx context.Context, source ItemLocation, dest resource.ItemReference, newName FileName,
) (*CopyProgressMonitor, error) {
	const op = "copy_item"

	c.logger.Info("starting copy",
		slog.String("source", source.String()),
		slog.String("dest_drive", string(dest.DriveID)),
		slog.String("dest_id", string(dest.ID)),
		slog.String("new_name", newName.String()),
	)

	body, err := jsonBody(copyItemRequest{ParentReference: dest, Name: newName.String()})
	if err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.itemURL(source, "/copy"),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: copying %s: %w", source, err)
	}

	drainClose(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return nil, protocolErr(op, fmt.Sprintf("expected 202 Accepted, got %d", resp.StatusCode), nil)
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, protocolErr(op, "response has no Location header", nil)
	}

	return &CopyProgressMonitor{client: c, monitorURL: loc, last: CopyNotStarted{}}, nil
}

// OpenCopyMonitor re-attaches to a copy started earlier.
func (c *Client) OpenCopyMonitor(monitorURL string) (*CopyProgressMonitor, error) {
	u, err := url.Parse(monitorURL)
	if err != nil || !u.IsAbs() {
		return nil, misuse("open_copy_monitor", "monitor URL must be absolute")
	}

	return &CopyProgressMonitor{client: c, monitorURL: monitorURL, last: CopyNotStarted{}}, nil
}

// MonitorURL returns the pre-authenticated status URL. Never log it.
func (m *CopyProgressMonitor) MonitorURL() string { return m.monitorURL }

// Status returns the most recently observed status.
func (m *CopyProgressMonitor) Status() CopyStatus { return m.last }

// Poll fetches the current status once.
func (m *CopyProgressMonitor) Poll(ctx context.Context) (CopyStatus, error) {
	const op = "poll_copy"

	if m.last.Terminal() {
		return nil, misuse(op, "copy already reached a terminal status")
	}

	resp, err := m.client.Execute(ctx, &Request{
		Op:              op,
		Method:          http.MethodGet,
		URL:             m.monitorURL,
		Unauthenticated: true,
		NoRedirect:      true,
		Accept:          []int{http.StatusSeeOther},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: polling copy: %w", err)
	}

	status, err := parseCopyStatus(op, resp)
	if err != nil {
		return nil, err
	}

	m.last = status

	return status, nil
}

func parseCopyStatus(op string, resp *http.Response) (CopyStatus, error) {
	if resp.StatusCode == http.StatusSeeOther {
		defer drainClose(resp.Body)

		done := CopyCompleted{Location: resp.Header.Get("Location")}

		var body asyncJobStatus
		if data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && len(data) > 0 {
			if json.Unmarshal(data, &body) == nil && body.ResourceID != "" {
				done.Item = &resource.DriveItem{ID: body.ResourceID}
			}
		}

		return done, nil
	}

	var body asyncJobStatus
	if err := decodeJSON(op, resp, &body); err != nil {
		return nil, err
	}

	switch body.Status {
	case "notStarted", "waiting":
		return CopyNotStarted{}, nil
	case "inProgress", "deletePending":
		var pct float64
		if body.PercentageComplete != nil {
			pct = *body.PercentageComplete
		}

		return CopyInProgress{Percentage: pct}, nil
	case "completed":
		done := CopyCompleted{}
		if body.ResourceID != "" {
			done.Item = &resource.DriveItem{ID: body.ResourceID}
		}

		return done, nil
	case "failed", "deleteFailed":
		return CopyFailed{Error: body.Error}, nil
	case "":
		return nil, protocolErr(op, "status is missing", nil)
	default:
		return nil, protocolErr(op, fmt.Sprintf("unknown status %q", body.Status), nil)
	}
}
