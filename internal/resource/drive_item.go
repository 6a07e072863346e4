package resource

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// DriveItem is a file, folder or other item stored in a drive.
//
// Pointer and RawMessage fields are nil when the server did not send them,
// which is the normal case for responses shaped by $select.
type DriveItem struct {
	ID                   ItemID          `json:"id,omitempty"`
	Name                 string          `json:"name,omitempty"`
	ETag                 Tag             `json:"eTag,omitempty"`
	CTag                 Tag             `json:"cTag,omitempty"`
	Description          string          `json:"description,omitempty"`
	Size                 *int64          `json:"size,omitempty"`
	WebURL               string          `json:"webUrl,omitempty"`
	WebDavURL            string          `json:"webDavUrl,omitempty"`
	CreatedBy            *IdentitySet    `json:"createdBy,omitempty"`
	CreatedDateTime      *time.Time      `json:"createdDateTime,omitempty"`
	LastModifiedBy       *IdentitySet    `json:"lastModifiedBy,omitempty"`
	LastModifiedDateTime *time.Time      `json:"lastModifiedDateTime,omitempty"`
	ParentReference      *ItemReference  `json:"parentReference,omitempty"`
	File                 *FileFacet      `json:"file,omitempty"`
	Folder               *FolderFacet    `json:"folder,omitempty"`
	Deleted              *DeletedFacet   `json:"deleted,omitempty"`
	Package              *PackageFacet   `json:"package,omitempty"`
	FileSystemInfo       *FileSystemInfo `json:"fileSystemInfo,omitempty"`
	Root                 json.RawMessage `json:"root,omitempty"`
	RemoteItem           *DriveItem      `json:"remoteItem,omitempty"`
	Children             []DriveItem     `json:"children,omitempty"`

	// DownloadURL is short-lived and pre-authenticated. Never log it.
	DownloadURL string `json:"@microsoft.graph.downloadUrl,omitempty"` //nolint:tagliatelle // Graph API annotation key

	// Extra holds every key without a dedicated field above.
	Extra map[string]json.RawMessage `json:"-"`

	raw map[string]json.RawMessage
}

// IsFolder reports whether the item carries a folder facet.
func (d *DriveItem) IsFolder() bool { return d.Folder != nil }

// IsFile reports whether the item carries a file facet.
func (d *DriveItem) IsFile() bool { return d.File != nil }

// IsDeleted reports whether a delta response marked the item as removed.
func (d *DriveItem) IsDeleted() bool { return d.Deleted != nil }

// IsRoot reports whether the item is the root folder of its drive.
func (d *DriveItem) IsRoot() bool { return len(d.Root) > 0 }

// SizeOrZero returns the item size, or 0 if it was not selected.
func (d *DriveItem) SizeOrZero() int64 {
	if d.Size == nil {
		return 0
	}

	return *d.Size
}

// Reference returns an ItemReference addressing this item.
func (d *DriveItem) Reference() ItemReference {
	ref := ItemReference{ID: d.ID, Name: d.Name}
	if d.ParentReference != nil {
		ref.DriveID = d.ParentReference.DriveID
		ref.DriveType = d.ParentReference.DriveType
	}

	return ref
}

func (d *DriveItem) rawField(wire string) (json.RawMessage, bool) {
	v, ok := d.raw[wire]
	return v, ok
}

// UnmarshalJSON decodes the modeled fields and keeps the rest in Extra.
func (d *DriveItem) UnmarshalJSON(data []byte) error {
	type plain DriveItem

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("resource: decoding drive item: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("resource: decoding drive item: %w", err)
	}

	*d = DriveItem(p)
	d.raw = raw
	d.Extra = unknownKeys(raw, knownKeysOf[DriveItem]())

	return nil
}

// MarshalJSON encodes the modeled fields merged with Extra.
func (d DriveItem) MarshalJSON() ([]byte, error) {
	type plain DriveItem
	return marshalWithExtra(plain(d), d.Extra)
}

func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	if len(extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}

	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}

func unknownKeys(raw map[string]json.RawMessage, known map[string]struct{}) map[string]json.RawMessage {
	var extra map[string]json.RawMessage

	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}

		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}

		extra[k] = v
	}

	return extra
}

var knownKeysCache sync.Map // reflect.Type -> map[string]struct{}

// knownKeysOf lists the JSON keys bound to struct fields of T.
func knownKeysOf[T any]() map[string]struct{} {
	t := reflect.TypeFor[T]()
	if cached, ok := knownKeysCache.Load(t); ok {
		return cached.(map[string]struct{}) //nolint:forcetypeassert // only this function stores
	}

	keys := make(map[string]struct{}, t.NumField())

	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}

		name, _, _ := strings.Cut(tag, ",")
		keys[name] = struct{}{}
	}

	knownKeysCache.Store(t, keys)

	return keys
}
