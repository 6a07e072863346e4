package graph

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// ChunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// Every chunk except the final one should be a multiple of this value.
const ChunkAlignment = 320 * 1024

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior ConflictBehavior `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
	FileSystemInfo   *fileSystemInfo  `json:"fileSystemInfo,omitempty"`
}

// fileSystemInfo preserves the local modification time on upload, so the
// server does not stamp the item with its receipt time.
type fileSystemInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

// uploadSessionStatus is returned by session creation, by status queries and
// by accepted intermediate chunks. Only the fields needed at each step are
// present.
type uploadSessionStatus struct {
	UploadURL          string        `json:"uploadUrl"`
	ExpirationDateTime *time.Time    `json:"expirationDateTime"`
	NextExpectedRanges []ExpectRange `json:"nextExpectedRanges"`
}

// UploadSession drives a resumable upload. It tracks which byte ranges the
// server still expects; each UploadChunk call sends exactly one PUT.
//
// An UploadSession is owned by one goroutine. Failed calls leave its state
// untouched, so the caller may retry the same chunk.
type UploadSession struct {
	client     *Client
	uploadURL  string
	fileSize   int64
	expiration time.Time
	missing    []ExpectRange
	finished   bool
}

// NewUploadSession asks the server for an upload session targeting item.
// cb is fixed for the lifetime of the session. A non-zero mtime is recorded
// as the item's last modified time.
func (c *Client) NewUploadSession(
	ctx context.Context, item ItemLocation, fileSize int64, cb ConflictBehavior, mtime time.Time,
) (*UploadSession, error) {
	const op = "create_upload_session"

	if fileSize <= 0 {
		return nil, misuse(op, "file size must be positive, got %d", fileSize)
	}

	if cb == "" {
		cb = ConflictFail
	}

	c.logger.Info("creating upload session",
		slog.String("item", item.String()),
		slog.Int64("size", fileSize),
		slog.String("conflict_behavior", string(cb)),
	)

	reqItem := uploadSessionItem{ConflictBehavior: cb}
	if !mtime.IsZero() {
		reqItem.FileSystemInfo = &fileSystemInfo{
			LastModifiedDateTime: mtime.UTC().Format(time.RFC3339),
		}
	}

	body, err := jsonBody(createUploadSessionRequest{Item: reqItem})
	if err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.itemURL(item, "/createUploadSession"),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: creating upload session for %s: %w", item, err)
	}

	var status uploadSessionStatus
	if err := decodeJSON(op, resp, &status); err != nil {
		return nil, err
	}

	if status.UploadURL == "" {
		return nil, protocolErr(op, "response has no uploadUrl", nil)
	}

	s := &UploadSession{
		client:    c,
		uploadURL: status.UploadURL,
		fileSize:  fileSize,
		missing:   []ExpectRange{{Start: 0, End: fileSize}},
	}

	if status.ExpirationDateTime != nil {
		s.expiration = *status.ExpirationDateTime
	}

	return s, nil
}

// ResumeUploadSession re-opens a session from a stored upload URL without
// contacting the server. All bytes are assumed missing until Refresh is
// called.
func (c *Client) ResumeUploadSession(uploadURL string, fileSize int64) (*UploadSession, error) {
	const op = "resume_upload_session"

	if fileSize <= 0 {
		return nil, misuse(op, "file size must be positive, got %d", fileSize)
	}

	u, err := url.Parse(uploadURL)
	if err != nil || !u.IsAbs() {
		return nil, misuse(op, "upload URL must be absolute")
	}

	return &UploadSession{
		client:    c,
		uploadURL: uploadURL,
		fileSize:  fileSize,
		missing:   []ExpectRange{{Start: 0, End: fileSize}},
	}, nil
}

// UploadURL returns the pre-authenticated session URL. Persist it to resume
// later; never log it.
func (s *UploadSession) UploadURL() string { return s.uploadURL }

// FileSize returns the total size declared for the upload.
func (s *UploadSession) FileSize() int64 { return s.fileSize }

// Expiration returns the server-reported expiry, zero if unknown.
func (s *UploadSession) Expiration() time.Time { return s.expiration }

// NextExpectedRanges returns the bounded ranges the server still expects,
// in ascending order.
func (s *UploadSession) NextExpectedRanges() []ExpectRange { return slices.Clone(s.missing) }

// Done reports whether the upload completed or the session was deleted.
func (s *UploadSession) Done() bool { return s.finished }

// LogValue keeps the upload URL out of logs.
func (s *UploadSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("size", s.fileSize),
		slog.Int("missing_ranges", len(s.missing)),
		slog.Bool("done", s.finished),
	)
}

// UploadChunk sends data as the bytes r of the file. r must be bounded,
// match len(data), lie within the file and lie entirely inside one range the
// server still expects; otherwise a MisuseError is returned and nothing is
// sent.
//
// The completed item is returned when the server reports the upload
// finished. For accepted intermediate chunks the item is nil.
func (s *UploadSession) UploadChunk(ctx context.Context, r ExpectRange, data []byte) (*resource.DriveItem, error) {
	const op = "upload_chunk"

	if err := s.checkChunk(op, r, data); err != nil {
		return nil, err
	}

	s.client.logger.Debug("uploading chunk",
		slog.Int64("start", r.Start),
		slog.Int64("end", r.End),
		slog.Int64("total", s.fileSize),
	)

	resp, err := s.client.Execute(ctx, &Request{
		Op:     op,
		Method: http.MethodPut,
		URL:    s.uploadURL,
		Header: http.Header{
			"Content-Range": {r.ContentRange(s.fileSize)},
			"Content-Type":  {"application/octet-stream"},
		},
		Body:            bytes.NewReader(data),
		ContentLength:   r.Len(),
		Unauthenticated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: uploading bytes %s: %w", r, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var item resource.DriveItem
		if err := decodeJSON(op, resp, &item); err != nil {
			return nil, err
		}

		s.finished = true
		s.missing = nil

		s.client.logger.Info("upload session completed",
			slog.String("item_id", string(item.ID)),
			slog.Int64("size", s.fileSize),
		)

		return &item, nil

	case http.StatusAccepted:
		var status uploadSessionStatus
		if err := decodeJSON(op, resp, &status); err != nil {
			return nil, err
		}

		missing, err := s.normalizeRanges(op, status.NextExpectedRanges)
		if err != nil {
			return nil, err
		}

		s.missing = missing
		if status.ExpirationDateTime != nil {
			s.expiration = *status.ExpirationDateTime
		}

		return nil, nil

	default:
		drainClose(resp.Body)
		return nil, protocolErr(op, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func (s *UploadSession) checkChunk(op string, r ExpectRange, data []byte) error {
	switch {
	case s.finished:
		return misuse(op, "upload session is finished")
	case r.IsOpen() || r.Start < 0 || r.End <= r.Start:
		return misuse(op, "range %s is not a bounded non-empty range", r)
	case r.End > s.fileSize:
		return misuse(op, "range %s exceeds file size %d", r, s.fileSize)
	case int64(len(data)) != r.Len():
		return misuse(op, "range %s covers %d bytes but %d were given", r, r.Len(), len(data))
	}

	for _, m := range s.missing {
		if m.Contains(r) {
			return nil
		}
	}

	return misuse(op, "range %s is not inside a single expected range", r)
}

// normalizeRanges closes open ranges at the file size and validates the
// result. An empty list means the server has nothing left to ask for yet did
// not report completion.
func (s *UploadSession) normalizeRanges(op string, ranges []ExpectRange) ([]ExpectRange, error) {
	if len(ranges) == 0 {
		return nil, protocolErr(op, "nextExpectedRanges is empty", nil)
	}

	out := make([]ExpectRange, 0, len(ranges))

	for _, r := range ranges {
		closed := r.Close(s.fileSize)
		if closed.Start >= closed.End || closed.End > s.fileSize {
			return nil, protocolErr(op, fmt.Sprintf("expected range %s is outside the file", r), nil)
		}

		out = append(out, closed)
	}

	slices.SortFunc(out, func(a, b ExpectRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	return out, nil
}

// Refresh queries the server for the ranges it still expects. Use it after
// ResumeUploadSession or after a chunk failed with an unknown outcome.
func (s *UploadSession) Refresh(ctx context.Context) error {
	const op = "query_upload_session"

	if s.finished {
		return misuse(op, "upload session is finished")
	}

	resp, err := s.client.Execute(ctx, &Request{
		Op:              op,
		Method:          http.MethodGet,
		URL:             s.uploadURL,
		Unauthenticated: true,
	})
	if err != nil {
		return fmt.Errorf("graph: querying upload session: %w", err)
	}

	var status uploadSessionStatus
	if err := decodeJSON(op, resp, &status); err != nil {
		return err
	}

	missing, err := s.normalizeRanges(op, status.NextExpectedRanges)
	if err != nil {
		return err
	}

	s.missing = missing
	if status.ExpirationDateTime != nil {
		s.expiration = *status.ExpirationDateTime
	}

	return nil
}

// Delete cancels the session on the server. The session is finished
// afterwards. Abandoning a session without calling Delete leaves it to
// expire server-side.
func (s *UploadSession) Delete(ctx context.Context) error {
	const op = "cancel_upload_session"

	if s.finished {
		return misuse(op, "upload session is finished")
	}

	resp, err := s.client.Execute(ctx, &Request{
		Op:              op,
		Method:          http.MethodDelete,
		URL:             s.uploadURL,
		Unauthenticated: true,
	})
	if err != nil {
		return fmt.Errorf("graph: canceling upload session: %w", err)
	}

	drainClose(resp.Body)

	s.finished = true
	s.missing = nil

	return nil
}
