package resource

import (
	"encoding/json"
	"fmt"
	"time"
)

// Drive is a top-level container of drive items, such as a user's OneDrive
// or a SharePoint document library.
type Drive struct {
	ID                   DriveID         `json:"id,omitempty"`
	Name                 string          `json:"name,omitempty"`
	Description          string          `json:"description,omitempty"`
	DriveType            string          `json:"driveType,omitempty"`
	WebURL               string          `json:"webUrl,omitempty"`
	CreatedBy            *IdentitySet    `json:"createdBy,omitempty"`
	CreatedDateTime      *time.Time      `json:"createdDateTime,omitempty"`
	LastModifiedBy       *IdentitySet    `json:"lastModifiedBy,omitempty"`
	LastModifiedDateTime *time.Time      `json:"lastModifiedDateTime,omitempty"`
	Owner                *IdentitySet    `json:"owner,omitempty"`
	Quota                *Quota          `json:"quota,omitempty"`
	Root                 *DriveItem      `json:"root,omitempty"`
	Items                []DriveItem     `json:"items,omitempty"`
	Special              []DriveItem     `json:"special,omitempty"`
	System               json.RawMessage `json:"system,omitempty"`

	// Extra holds every key without a dedicated field above.
	Extra map[string]json.RawMessage `json:"-"`

	raw map[string]json.RawMessage
}

func (d *Drive) rawField(wire string) (json.RawMessage, bool) {
	v, ok := d.raw[wire]
	return v, ok
}

// UnmarshalJSON decodes the modeled fields and keeps the rest in Extra.
func (d *Drive) UnmarshalJSON(data []byte) error {
	type plain Drive

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("resource: decoding drive: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("resource: decoding drive: %w", err)
	}

	*d = Drive(p)
	d.raw = raw
	d.Extra = unknownKeys(raw, knownKeysOf[Drive]())

	return nil
}

// MarshalJSON encodes the modeled fields merged with Extra.
func (d Drive) MarshalJSON() ([]byte, error) {
	type plain Drive
	return marshalWithExtra(plain(d), d.Extra)
}
