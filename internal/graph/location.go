package graph

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// ErrInvalidLocation is returned for malformed drive or item locations.
var ErrInvalidLocation = errors.New("graph: invalid location")

// DriveLocation addresses a drive. The zero value is invalid.
type DriveLocation struct {
	path string
}

// MyDrive addresses the signed-in user's default drive.
func MyDrive() DriveLocation { return DriveLocation{path: "/me/drive"} }

// UserDrive addresses the default drive of a user.
func UserDrive(userID string) DriveLocation {
	return DriveLocation{path: "/users/" + url.PathEscape(userID) + "/drive"}
}

// GroupDrive addresses the default drive of a group.
func GroupDrive(groupID string) DriveLocation {
	return DriveLocation{path: "/groups/" + url.PathEscape(groupID) + "/drive"}
}

// SiteDrive addresses the default document library of a SharePoint site.
func SiteDrive(siteID string) DriveLocation {
	return DriveLocation{path: "/sites/" + url.PathEscape(siteID) + "/drive"}
}

// DriveByID addresses a drive by its ID.
func DriveByID(id resource.DriveID) DriveLocation {
	return DriveLocation{path: "/drives/" + url.PathEscape(string(id))}
}

// ParseDriveLocation parses the textual forms used in configuration:
// "me", "user:<id>", "group:<id>", "site:<id>" and "drive:<id>".
func ParseDriveLocation(s string) (DriveLocation, error) {
	if s == "" || s == "me" {
		return MyDrive(), nil
	}

	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return DriveLocation{}, fmt.Errorf("%w: drive %q", ErrInvalidLocation, s)
	}

	switch kind {
	case "user":
		return UserDrive(id), nil
	case "group":
		return GroupDrive(id), nil
	case "site":
		return SiteDrive(id), nil
	case "drive":
		return DriveByID(resource.DriveID(id)), nil
	default:
		return DriveLocation{}, fmt.Errorf("%w: unknown drive kind %q", ErrInvalidLocation, kind)
	}
}

// IsZero reports whether the location is unset.
func (d DriveLocation) IsZero() bool { return d.path == "" }

// Path returns the API path of the drive, relative to the service root.
func (d DriveLocation) Path() string { return d.path }

func (d DriveLocation) String() string { return d.path }

// ItemLocation addresses an item within a drive. The zero value is invalid.
type ItemLocation struct {
	path string
	desc string
}

// Root addresses the root folder.
func Root() ItemLocation { return ItemLocation{path: "/root", desc: "/"} }

// ItemByID addresses an item by ID.
func ItemByID(id resource.ItemID) ItemLocation {
	return ItemLocation{path: "/items/" + url.PathEscape(string(id)), desc: "id:" + string(id)}
}

// ItemByPath addresses an item by its absolute path from the drive root.
// "/" is the root itself. Empty segments, "." and ".." are rejected.
func ItemByPath(p string) (ItemLocation, error) {
	if !strings.HasPrefix(p, "/") {
		return ItemLocation{}, fmt.Errorf("%w: path %q must start with /", ErrInvalidLocation, p)
	}

	trimmed := strings.TrimSuffix(p, "/")
	if trimmed == "" {
		return Root(), nil
	}

	segments := strings.Split(trimmed[1:], "/")
	for i, seg := range segments {
		if _, err := NewFileName(seg); err != nil {
			return ItemLocation{}, fmt.Errorf("%w: path %q: %w", ErrInvalidLocation, p, err)
		}

		segments[i] = url.PathEscape(norm.NFC.String(seg))
	}

	return ItemLocation{
		path: "/root:/" + strings.Join(segments, "/") + ":",
		desc: trimmed,
	}, nil
}

// ChildOf addresses the child named name of the folder with ID parent.
func ChildOf(parent resource.ItemID, name FileName) ItemLocation {
	return ItemLocation{
		path: "/items/" + url.PathEscape(string(parent)) + ":/" + url.PathEscape(name.String()) + ":",
		desc: "id:" + string(parent) + "/" + name.String(),
	}
}

// IsZero reports whether the location is unset.
func (l ItemLocation) IsZero() bool { return l.path == "" }

// Path returns the item segment of the API path, relative to the drive.
func (l ItemLocation) Path() string { return l.path }

func (l ItemLocation) String() string { return l.desc }

// FileName is a single validated path component.
type FileName struct {
	name string
}

const invalidNameChars = `/\*<>?:|"`

// NewFileName validates and NFC-normalizes a file name.
func NewFileName(name string) (FileName, error) {
	switch {
	case name == "":
		return FileName{}, errors.New("empty file name")
	case name == "." || name == "..":
		return FileName{}, fmt.Errorf("reserved file name %q", name)
	case strings.ContainsAny(name, invalidNameChars):
		return FileName{}, fmt.Errorf("file name %q contains one of %s", name, invalidNameChars)
	}

	return FileName{name: norm.NFC.String(name)}, nil
}

// MustFileName is NewFileName for constant names. It panics on invalid input.
func MustFileName(name string) FileName {
	fn, err := NewFileName(name)
	if err != nil {
		panic(err)
	}

	return fn
}

// IsZero reports whether the name is unset.
func (f FileName) IsZero() bool { return f.name == "" }

func (f FileName) String() string { return f.name }

// ConflictBehavior tells the server what to do when the target name exists.
type ConflictBehavior string

// Conflict behaviors accepted by Graph.
const (
	ConflictFail    ConflictBehavior = "fail"
	ConflictReplace ConflictBehavior = "replace"
	ConflictRename  ConflictBehavior = "rename"
)

// ParseConflictBehavior validates a conflict behavior name.
func ParseConflictBehavior(s string) (ConflictBehavior, error) {
	switch cb := ConflictBehavior(s); cb {
	case ConflictFail, ConflictReplace, ConflictRename:
		return cb, nil
	default:
		return "", fmt.Errorf("graph: unknown conflict behavior %q (want fail, replace or rename)", s)
	}
}
