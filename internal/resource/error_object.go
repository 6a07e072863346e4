package resource

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorObject is the "error" member of a Graph error response, and the error
// reported by a failed copy operation. InnerError chains down to the most
// specific cause.
type ErrorObject struct {
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
	InnerError *ErrorObject `json:"innerError,omitempty"`

	// Extra holds additional members such as "date" or "request-id".
	Extra map[string]json.RawMessage `json:"-"`
}

// ErrorResponse is the envelope of an error body.
type ErrorResponse struct {
	Error *ErrorObject `json:"error"`
}

// InnermostCode returns the code of the deepest inner error that has one.
func (e *ErrorObject) InnermostCode() string {
	code := ""
	for cur := e; cur != nil; cur = cur.InnerError {
		if cur.Code != "" {
			code = cur.Code
		}
	}

	return code
}

// String renders the chain as "code: message (inner: ...)".
func (e *ErrorObject) String() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder

	for cur, depth := e, 0; cur != nil; cur, depth = cur.InnerError, depth+1 {
		if cur.Code == "" && cur.Message == "" {
			continue
		}

		if depth > 0 {
			b.WriteString(" (inner: ")
		}

		switch {
		case cur.Code != "" && cur.Message != "":
			fmt.Fprintf(&b, "%s: %s", cur.Code, cur.Message)
		case cur.Code != "":
			b.WriteString(cur.Code)
		default:
			b.WriteString(cur.Message)
		}

		if depth > 0 {
			b.WriteString(")")
		}
	}

	return b.String()
}

// UnmarshalJSON decodes the known members and keeps the rest in Extra.
func (e *ErrorObject) UnmarshalJSON(data []byte) error {
	type plain ErrorObject

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("resource: decoding error object: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("resource: decoding error object: %w", err)
	}

	*e = ErrorObject(p)
	e.Extra = unknownKeys(raw, knownKeysOf[ErrorObject]())

	return nil
}

// MarshalJSON encodes the known members merged with Extra.
func (e ErrorObject) MarshalJSON() ([]byte, error) {
	type plain ErrorObject
	return marshalWithExtra(plain(e), e.Extra)
}
