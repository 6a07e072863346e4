package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// deltaPreferHeader requests that the Graph API include remote/shared items
// using stable alias IDs in delta responses. Without it, Personal accounts
// may receive incomplete results for shared folders.
func deltaPreferHeader() http.Header {
	return http.Header{"Prefer": {"deltashowremoteitemsaliasid"}}
}

// TrackChangeFetcher enumerates changes under an item since a delta token
// was issued. Pages carrying a nextLink continue the enumeration; the page
// carrying a deltaLink ends it and provides the token for the next run.
//
// Items are returned exactly as the server sent them: removed items carry a
// deleted facet, and the same item may appear more than once.
//
// A 410 Gone response (ErrGone) means the token expired; start over with a
// full enumeration.
type TrackChangeFetcher struct {
	client    *Client
	nextURL   string
	deltaURL  string
	exhausted bool
	page      int
}

// TrackChanges starts a full enumeration of item and its descendants.
func (c *Client) TrackChanges(item ItemLocation, opt option.Collection[resource.DriveItem]) *TrackChangeFetcher {
	return &TrackChangeFetcher{
		client:  c,
		nextURL: withQuery(c.itemURL(item, "/delta"), opt.Encode()),
	}
}

// TrackChangesFrom resumes from a deltaLink returned by an earlier
// enumeration. The URL is used verbatim.
func (c *Client) TrackChangesFrom(deltaURL string) (*TrackChangeFetcher, error) {
	u, err := url.Parse(deltaURL)
	if err != nil || !u.IsAbs() {
		return nil, misuse("track_changes", "delta URL must be absolute")
	}

	return &TrackChangeFetcher{client: c, nextURL: deltaURL}, nil
}

// LatestDeltaURL returns a delta URL that reports only changes made after
// this call, without enumerating existing items.
func (c *Client) LatestDeltaURL(ctx context.Context, item ItemLocation) (string, error) {
	const op = "latest_delta"

	resp, err := c.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    c.itemURL(item, "/delta?token=latest"),
		Header: deltaPreferHeader(),
	})
	if err != nil {
		return "", fmt.Errorf("graph: fetching latest delta token: %w", err)
	}

	var page pageResponse
	if err := decodeJSON(op, resp, &page); err != nil {
		return "", err
	}

	if page.DeltaLink == "" {
		return "", protocolErr(op, "response has no deltaLink", nil)
	}

	return page.DeltaLink, nil
}

// Exhausted reports whether the final page has been returned.
func (f *TrackChangeFetcher) Exhausted() bool { return f.exhausted }

// DeltaURL returns the resumption URL once the final page was fetched.
func (f *TrackChangeFetcher) DeltaURL() (string, bool) {
	return f.deltaURL, f.exhausted
}

// NextPage fetches one page of changes. more is false on the final page,
// after which DeltaURL is available. Calling NextPage again is a MisuseError.
func (f *TrackChangeFetcher) NextPage(ctx context.Context) (items []resource.DriveItem, more bool, err error) {
	const op = "track_changes"

	if f.exhausted {
		return nil, false, misuse(op, "change enumeration is exhausted")
	}

	resp, err := f.client.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    f.nextURL,
		Header: deltaPreferHeader(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("graph: fetching changes (page %d): %w", f.page+1, err)
	}

	var page pageResponse
	if err := decodeJSON(op, resp, &page); err != nil {
		return nil, false, err
	}

	switch {
	case page.NextLink != "":
		f.nextURL = page.NextLink
		more = true
	case page.DeltaLink != "":
		f.deltaURL = page.DeltaLink
		f.nextURL = ""
		f.exhausted = true
	default:
		return nil, false, protocolErr(op, "page has neither nextLink nor deltaLink", nil)
	}

	f.page++

	f.client.logger.Debug("fetched delta page",
		slog.Int("page", f.page),
		slog.Int("count", len(page.Value)),
		slog.Bool("final", f.exhausted),
	)

	return page.Value, more, nil
}

// FetchAll collects the remaining changes and returns them with the delta
// URL for the next run.
func (f *TrackChangeFetcher) FetchAll(ctx context.Context) ([]resource.DriveItem, string, error) {
	var all []resource.DriveItem

	for !f.exhausted {
		items, _, err := f.NextPage(ctx)
		if err != nil {
			return nil, "", err
		}

		all = append(all, items...)
	}

	return all, f.deltaURL, nil
}
