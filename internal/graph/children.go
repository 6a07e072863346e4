package graph

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// pageResponse is the envelope shared by collection responses.
type pageResponse struct {
	Value     []resource.DriveItem `json:"value"`
	NextLink  string               `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string               `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// ListChildrenFetcher pages through the children of a folder. It performs
// no I/O until NextPage is called, and each NextPage sends exactly one GET.
// The nextLink returned by the server is followed verbatim.
type ListChildrenFetcher struct {
	client    *Client
	nextURL   string
	exhausted bool
	page      int
}

// ListChildren prepares a listing of item's children. If opt sets no $top,
// the client's page size is used.
func (c *Client) ListChildren(item ItemLocation, opt option.Collection[resource.DriveItem]) *ListChildrenFetcher {
	if opt.PageSize() == 0 {
		opt = opt.Top(c.pageSize)
	}

	return &ListChildrenFetcher{
		client:  c,
		nextURL: withQuery(c.itemURL(item, "/children"), opt.Encode()),
	}
}

// Exhausted reports whether the last page has been returned.
func (f *ListChildrenFetcher) Exhausted() bool { return f.exhausted }

// NextPage fetches one page. more is false when this was the last page.
// Calling NextPage after the last page is a MisuseError.
func (f *ListChildrenFetcher) NextPage(ctx context.Context) (items []resource.DriveItem, more bool, err error) {
	const op = "list_children"

	if f.exhausted {
		return nil, false, misuse(op, "listing is exhausted")
	}

	resp, err := f.client.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    f.nextURL,
	})
	if err != nil {
		return nil, false, fmt.Errorf("graph: listing children (page %d): %w", f.page+1, err)
	}

	var page pageResponse
	if err := decodeJSON(op, resp, &page); err != nil {
		return nil, false, err
	}

	f.page++

	f.client.logger.Debug("fetched children page",
		slog.Int("page", f.page),
		slog.Int("count", len(page.Value)),
		slog.Bool("has_next", page.NextLink != ""),
	)

	if page.NextLink == "" {
		f.exhausted = true
		f.nextURL = ""

		return page.Value, false, nil
	}

	f.nextURL = page.NextLink

	return page.Value, true, nil
}

// All iterates over the remaining children, fetching pages on demand.
// Iteration stops after yielding the first error.
func (f *ListChildrenFetcher) All(ctx context.Context) iter.Seq2[resource.DriveItem, error] {
	return func(yield func(resource.DriveItem, error) bool) {
		for !f.exhausted {
			items, _, err := f.NextPage(ctx)
			if err != nil {
				yield(resource.DriveItem{}, err)
				return
			}

			for i := range items {
				if !yield(items[i], nil) {
					return
				}
			}
		}
	}
}

// FetchAll collects all remaining children.
func (f *ListChildrenFetcher) FetchAll(ctx context.Context) ([]resource.DriveItem, error) {
	var all []resource.DriveItem

	for !f.exhausted {
		items, _, err := f.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		all = append(all, items...)
	}

	return all, nil
}
