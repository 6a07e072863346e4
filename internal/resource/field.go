package resource

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSelectable is returned when a name resolves to an annotation, which
// the server rejects inside $select.
var ErrNotSelectable = errors.New("resource: field is not selectable")

// ErrUnknownField is returned when a name matches no descriptor.
var ErrUnknownField = errors.New("resource: unknown field")

// Descriptor is the part shared by every field token.
type Descriptor interface {
	// Name is the snake_case logical name.
	Name() string
	// WireName is the JSON key used in payloads and query strings.
	WireName() string
	// IsZero reports whether the descriptor is an uninitialized value.
	IsZero() bool
}

// Selectable is a descriptor that may appear in $select for resource R.
// The unexported method keeps implementations inside this package, so an
// Annotation can never be passed where a Selectable is expected.
type Selectable[R any] interface {
	Descriptor
	selectableOn(*R)
}

type descriptor struct {
	name string
	wire string
}

func (d descriptor) Name() string     { return d.name }
func (d descriptor) WireName() string { return d.wire }
func (d descriptor) IsZero() bool     { return d.wire == "" }

func (d descriptor) String() string { return d.wire }

// Field is a selectable property of R whose decoded value has type V.
type Field[R, V any] struct{ descriptor }

func (Field[R, V]) selectableOn(*R) {}

// Relation is a navigation property of R that expands to resources of type C.
// Relations are selectable and may also be expanded.
type Relation[R, C any] struct{ descriptor }

func (Relation[R, C]) selectableOn(*R) {}

// Annotation is an instance annotation of R, such as
// "@microsoft.graph.downloadUrl". It is returned by the server but cannot be
// requested through $select.
type Annotation[R, V any] struct{ descriptor }

func newField[R, V any](name string) Field[R, V] {
	return Field[R, V]{descriptor{name: name, wire: SnakeToCamel(name)}}
}

func newRelation[R, C any](name string) Relation[R, C] {
	return Relation[R, C]{descriptor{name: name, wire: SnakeToCamel(name)}}
}

func newAnnotation[R, V any](name, wire string) Annotation[R, V] {
	return Annotation[R, V]{descriptor{name: name, wire: wire}}
}

// rawSource is implemented by resources that keep their decoded payload.
type rawSource[R any] interface {
	*R
	rawField(wire string) (json.RawMessage, bool)
}

// Value decodes the field f from r. The boolean is false when the server did
// not include the field, which is expected for $select-shaped responses.
func Value[R, V any, P rawSource[R]](r P, f Field[R, V]) (V, bool, error) {
	return decodeRaw[V](r, f.descriptor)
}

// AnnotationValue decodes the annotation a from r.
func AnnotationValue[R, V any, P rawSource[R]](r P, a Annotation[R, V]) (V, bool, error) {
	return decodeRaw[V](r, a.descriptor)
}

func decodeRaw[V any](r interface {
	rawField(wire string) (json.RawMessage, bool)
}, d descriptor,
) (V, bool, error) {
	var v V

	raw, ok := r.rawField(d.wire)
	if !ok {
		return v, false, nil
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("resource: decoding %s: %w", d.wire, err)
	}

	return v, true, nil
}
