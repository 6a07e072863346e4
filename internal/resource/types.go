// Package resource holds the typed drive resources returned by the Graph API
// and the field descriptors used to build $select and $expand queries.
//
// Resources decode every key the server sends. Keys without a Go field are
// kept in Extra so partial or newer payloads round-trip without loss.
package resource

import (
	"encoding/json"
	"time"
)

// DriveID identifies a drive. Graph returns these with inconsistent casing,
// so compare with strings.EqualFold when matching across responses.
type DriveID string

// ItemID identifies a drive item within its drive.
type ItemID string

// Tag is an opaque eTag or cTag value.
type Tag string

// ItemReference points at an item, typically the parent of another item or
// the destination of a copy.
type ItemReference struct {
	DriveID   DriveID `json:"driveId,omitempty"`
	DriveType string  `json:"driveType,omitempty"`
	ID        ItemID  `json:"id,omitempty"`
	Name      string  `json:"name,omitempty"`
	Path      string  `json:"path,omitempty"`
	SiteID    string  `json:"siteId,omitempty"`
}

// Identity is a user, application or device.
type Identity struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// IdentitySet groups the identities associated with an action.
type IdentitySet struct {
	User        *Identity `json:"user,omitempty"`
	Application *Identity `json:"application,omitempty"`
	Device      *Identity `json:"device,omitempty"`
}

// Hashes carries the content hashes Graph reports for a file. Which hashes
// are present depends on the account type.
type Hashes struct {
	QuickXorHash string `json:"quickXorHash,omitempty"`
	SHA1Hash     string `json:"sha1Hash,omitempty"`
	SHA256Hash   string `json:"sha256Hash,omitempty"`
	CRC32Hash    string `json:"crc32Hash,omitempty"`
}

// FileFacet marks an item as a file.
type FileFacet struct {
	MimeType string  `json:"mimeType,omitempty"`
	Hashes   *Hashes `json:"hashes,omitempty"`
}

// FolderFacet marks an item as a folder.
type FolderFacet struct {
	ChildCount int64 `json:"childCount"`
}

// DeletedFacet is present on items reported as removed by a delta query.
type DeletedFacet struct {
	State string `json:"state,omitempty"`
}

// PackageFacet marks a folder-like item that must be treated as a single
// unit, such as a OneNote notebook.
type PackageFacet struct {
	Type string `json:"type,omitempty"`
}

// FileSystemInfo holds client-side timestamps.
type FileSystemInfo struct {
	CreatedDateTime      *time.Time `json:"createdDateTime,omitempty"`
	LastAccessedDateTime *time.Time `json:"lastAccessedDateTime,omitempty"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime,omitempty"`
}

// Quota describes drive storage usage in bytes.
type Quota struct {
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Deleted   int64  `json:"deleted"`
	State     string `json:"state,omitempty"`
}

// The following relationship targets are not modeled field by field. They
// exist so expansions of those relationships stay typed.
type (
	Permission       map[string]json.RawMessage
	ThumbnailSet     map[string]json.RawMessage
	DriveItemVersion map[string]json.RawMessage
	User             map[string]json.RawMessage
)
