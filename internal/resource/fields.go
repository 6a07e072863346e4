package resource

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// DriveItemField lists the descriptors of DriveItem.
var DriveItemField = struct {
	// Base item properties.
	ID                   Field[DriveItem, ItemID]
	CreatedBy            Field[DriveItem, IdentitySet]
	CreatedDateTime      Field[DriveItem, time.Time]
	ETag                 Field[DriveItem, Tag]
	LastModifiedBy       Field[DriveItem, IdentitySet]
	LastModifiedDateTime Field[DriveItem, time.Time]
	Name                 Field[DriveItem, string]
	ParentReference      Field[DriveItem, ItemReference]
	WebURL               Field[DriveItem, string]

	// Drive item properties.
	Audio          Field[DriveItem, json.RawMessage]
	Content        Field[DriveItem, json.RawMessage]
	CTag           Field[DriveItem, Tag]
	Deleted        Field[DriveItem, DeletedFacet]
	Description    Field[DriveItem, string]
	File           Field[DriveItem, FileFacet]
	FileSystemInfo Field[DriveItem, FileSystemInfo]
	Folder         Field[DriveItem, FolderFacet]
	Image          Field[DriveItem, json.RawMessage]
	Location       Field[DriveItem, json.RawMessage]
	Package        Field[DriveItem, PackageFacet]
	Photo          Field[DriveItem, json.RawMessage]
	Publication    Field[DriveItem, json.RawMessage]
	RemoteItem     Field[DriveItem, DriveItem]
	Root           Field[DriveItem, json.RawMessage]
	SearchResult   Field[DriveItem, json.RawMessage]
	Shared         Field[DriveItem, json.RawMessage]
	SharepointIDs  Field[DriveItem, json.RawMessage]
	Size           Field[DriveItem, int64]
	SpecialFolder  Field[DriveItem, json.RawMessage]
	Video          Field[DriveItem, json.RawMessage]
	WebDavURL      Field[DriveItem, string]

	// Relationships.
	Children           Relation[DriveItem, DriveItem]
	CreatedByUser      Relation[DriveItem, User]
	LastModifiedByUser Relation[DriveItem, User]
	Permissions        Relation[DriveItem, Permission]
	Thumbnails         Relation[DriveItem, ThumbnailSet]
	Versions           Relation[DriveItem, DriveItemVersion]

	// Instance annotations.
	DownloadURL Annotation[DriveItem, string]
}{
	ID:                   newField[DriveItem, ItemID]("id"),
	CreatedBy:            newField[DriveItem, IdentitySet]("created_by"),
	CreatedDateTime:      newField[DriveItem, time.Time]("created_date_time"),
	ETag:                 newField[DriveItem, Tag]("e_tag"),
	LastModifiedBy:       newField[DriveItem, IdentitySet]("last_modified_by"),
	LastModifiedDateTime: newField[DriveItem, time.Time]("last_modified_date_time"),
	Name:                 newField[DriveItem, string]("name"),
	ParentReference:      newField[DriveItem, ItemReference]("parent_reference"),
	WebURL:               newField[DriveItem, string]("web_url"),

	Audio:          newField[DriveItem, json.RawMessage]("audio"),
	Content:        newField[DriveItem, json.RawMessage]("content"),
	CTag:           newField[DriveItem, Tag]("c_tag"),
	Deleted:        newField[DriveItem, DeletedFacet]("deleted"),
	Description:    newField[DriveItem, string]("description"),
	File:           newField[DriveItem, FileFacet]("file"),
	FileSystemInfo: newField[DriveItem, FileSystemInfo]("file_system_info"),
	Folder:         newField[DriveItem, FolderFacet]("folder"),
	Image:          newField[DriveItem, json.RawMessage]("image"),
	Location:       newField[DriveItem, json.RawMessage]("location"),
	Package:        newField[DriveItem, PackageFacet]("package"),
	Photo:          newField[DriveItem, json.RawMessage]("photo"),
	Publication:    newField[DriveItem, json.RawMessage]("publication"),
	RemoteItem:     newField[DriveItem, DriveItem]("remote_item"),
	Root:           newField[DriveItem, json.RawMessage]("root"),
	SearchResult:   newField[DriveItem, json.RawMessage]("search_result"),
	Shared:         newField[DriveItem, json.RawMessage]("shared"),
	SharepointIDs:  newField[DriveItem, json.RawMessage]("sharepoint_ids"),
	Size:           newField[DriveItem, int64]("size"),
	SpecialFolder:  newField[DriveItem, json.RawMessage]("special_folder"),
	Video:          newField[DriveItem, json.RawMessage]("video"),
	WebDavURL:      newField[DriveItem, string]("web_dav_url"),

	Children:           newRelation[DriveItem, DriveItem]("children"),
	CreatedByUser:      newRelation[DriveItem, User]("created_by_user"),
	LastModifiedByUser: newRelation[DriveItem, User]("last_modified_by_user"),
	Permissions:        newRelation[DriveItem, Permission]("permissions"),
	Thumbnails:         newRelation[DriveItem, ThumbnailSet]("thumbnails"),
	Versions:           newRelation[DriveItem, DriveItemVersion]("versions"),

	DownloadURL: newAnnotation[DriveItem, string]("download_url", "@microsoft.graph.downloadUrl"),
}

// DriveField lists the descriptors of Drive.
var DriveField = struct {
	ID                   Field[Drive, DriveID]
	CreatedBy            Field[Drive, IdentitySet]
	CreatedDateTime      Field[Drive, time.Time]
	Description          Field[Drive, string]
	DriveType            Field[Drive, string]
	LastModifiedBy       Field[Drive, IdentitySet]
	LastModifiedDateTime Field[Drive, time.Time]
	Name                 Field[Drive, string]
	Owner                Field[Drive, IdentitySet]
	Quota                Field[Drive, Quota]
	SharepointIDs        Field[Drive, json.RawMessage]
	System               Field[Drive, json.RawMessage]
	WebURL               Field[Drive, string]

	Items   Relation[Drive, DriveItem]
	Root    Relation[Drive, DriveItem]
	Special Relation[Drive, DriveItem]
}{
	ID:                   newField[Drive, DriveID]("id"),
	CreatedBy:            newField[Drive, IdentitySet]("created_by"),
	CreatedDateTime:      newField[Drive, time.Time]("created_date_time"),
	Description:          newField[Drive, string]("description"),
	DriveType:            newField[Drive, string]("drive_type"),
	LastModifiedBy:       newField[Drive, IdentitySet]("last_modified_by"),
	LastModifiedDateTime: newField[Drive, time.Time]("last_modified_date_time"),
	Name:                 newField[Drive, string]("name"),
	Owner:                newField[Drive, IdentitySet]("owner"),
	Quota:                newField[Drive, Quota]("quota"),
	SharepointIDs:        newField[Drive, json.RawMessage]("sharepoint_ids"),
	System:               newField[Drive, json.RawMessage]("system"),
	WebURL:               newField[Drive, string]("web_url"),

	Items:   newRelation[Drive, DriveItem]("items"),
	Root:    newRelation[Drive, DriveItem]("root"),
	Special: newRelation[Drive, DriveItem]("special"),
}

type fieldIndex[R any] struct {
	selectable map[string]Selectable[R]
	other      map[string]Descriptor
}

// indexRegistry walks a descriptor registry struct and indexes every entry
// by both its logical and wire names.
func indexRegistry[R any](registry any) fieldIndex[R] {
	idx := fieldIndex[R]{
		selectable: make(map[string]Selectable[R]),
		other:      make(map[string]Descriptor),
	}

	v := reflect.ValueOf(registry)
	for i := range v.NumField() {
		switch d := v.Field(i).Interface().(type) {
		case Selectable[R]:
			idx.selectable[d.Name()] = d
			idx.selectable[d.WireName()] = d
		case Descriptor:
			idx.other[d.Name()] = d
			idx.other[d.WireName()] = d
		}
	}

	return idx
}

func (idx fieldIndex[R]) lookup(name string) (Selectable[R], error) {
	if d, ok := idx.selectable[name]; ok {
		return d, nil
	}

	if d, ok := idx.other[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSelectable, d.WireName())
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

func (idx fieldIndex[R]) names() []string {
	seen := make(map[string]struct{})

	var out []string

	for _, d := range idx.selectable {
		if _, ok := seen[d.Name()]; ok {
			continue
		}

		seen[d.Name()] = struct{}{}
		out = append(out, d.Name())
	}

	sort.Strings(out)

	return out
}

var (
	driveItemIndex = indexRegistry[DriveItem](DriveItemField)
	driveIndex     = indexRegistry[Drive](DriveField)
)

// LookupDriveItemField resolves a snake_case or wire name to a selectable
// DriveItem descriptor.
func LookupDriveItemField(name string) (Selectable[DriveItem], error) {
	return driveItemIndex.lookup(name)
}

// LookupDriveField resolves a snake_case or wire name to a selectable Drive
// descriptor.
func LookupDriveField(name string) (Selectable[Drive], error) {
	return driveIndex.lookup(name)
}

// DriveItemFieldNames returns the logical names of all selectable DriveItem
// descriptors, sorted.
func DriveItemFieldNames() []string {
	return driveItemIndex.names()
}
