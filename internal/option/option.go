// Package option builds the OData query parameters ($select, $expand, $top,
// $orderby, $filter) attached to Graph requests. Builders are immutable
// values: every method returns a modified copy, so a base option can be
// shared and specialized freely.
package option

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// Expansion is one $expand entry for resource R.
type Expansion[R any] interface {
	String() string
	expansionOf(*R)
}

// Expander expands a relation of R whose targets have type C.
type Expander[R, C any] struct {
	wire   string
	nested []string
}

// Expand starts an expansion of rel. A zero relation panics.
func Expand[R, C any](rel resource.Relation[R, C]) Expander[R, C] {
	if rel.IsZero() {
		panic("option: Expand called with a zero relation")
	}

	return Expander[R, C]{wire: rel.WireName()}
}

// Select restricts the expanded resources to the given fields.
func (e Expander[R, C]) Select(fields ...resource.Selectable[C]) Expander[R, C] {
	e.nested = appendUnique(slices.Clone(e.nested), wireNames(fields))
	return e
}

func (e Expander[R, C]) String() string {
	if len(e.nested) == 0 {
		return e.wire
	}

	return e.wire + "($select=" + strings.Join(e.nested, ",") + ")"
}

func (Expander[R, C]) expansionOf(*R) {}

type common struct {
	selects []string
	expands []string
}

func (c common) withSelect(names []string) common {
	c.selects = appendUnique(slices.Clone(c.selects), names)
	return c
}

func (c common) withExpand(entries []string) common {
	c.expands = appendUnique(slices.Clone(c.expands), entries)
	return c
}

func (c common) query(q url.Values) {
	if len(c.selects) > 0 {
		q.Set("$select", strings.Join(c.selects, ","))
	}

	if len(c.expands) > 0 {
		q.Set("$expand", strings.Join(c.expands, ","))
	}
}

// Object shapes a request returning a single R.
type Object[R any] struct {
	common
}

// NewObject returns an empty object option.
func NewObject[R any]() Object[R] { return Object[R]{} }

// Select restricts the response to the given fields.
func (o Object[R]) Select(fields ...resource.Selectable[R]) Object[R] {
	o.common = o.withSelect(wireNames(fields))
	return o
}

// Expand inlines the given relationships.
func (o Object[R]) Expand(e ...Expansion[R]) Object[R] {
	o.common = o.withExpand(expansionStrings(e))
	return o
}

// Query returns the parameters as url.Values.
func (o Object[R]) Query() url.Values {
	q := url.Values{}
	o.query(q)

	return q
}

// Encode returns the parameters as a query string without the leading "?".
func (o Object[R]) Encode() string { return encode(o.Query()) }

// Collection shapes a request returning a page of R.
type Collection[R any] struct {
	common
	top     int
	orderBy []string
	filter  string
}

// NewCollection returns an empty collection option.
func NewCollection[R any]() Collection[R] { return Collection[R]{} }

// Select restricts each returned resource to the given fields.
func (o Collection[R]) Select(fields ...resource.Selectable[R]) Collection[R] {
	o.common = o.withSelect(wireNames(fields))
	return o
}

// Expand inlines the given relationships on each returned resource.
func (o Collection[R]) Expand(e ...Expansion[R]) Collection[R] {
	o.common = o.withExpand(expansionStrings(e))
	return o
}

// Top requests at most n resources per page. Non-positive n panics.
func (o Collection[R]) Top(n int) Collection[R] {
	if n <= 0 {
		panic(fmt.Sprintf("option: Top(%d) must be positive", n))
	}

	o.top = n

	return o
}

// OrderBy appends a sort key. Zero descriptors panic.
func (o Collection[R]) OrderBy(field resource.Selectable[R], desc bool) Collection[R] {
	if field == nil || field.IsZero() {
		panic("option: OrderBy called with a zero field")
	}

	key := field.WireName()
	if desc {
		key += " desc"
	}

	o.orderBy = append(slices.Clone(o.orderBy), key)

	return o
}

// Filter sets a raw $filter expression. Graph supports only a small subset
// of filters on drive items, so the expression is passed through verbatim.
func (o Collection[R]) Filter(expr string) Collection[R] {
	o.filter = expr
	return o
}

// PageSize returns the $top value, or 0 if unset.
func (o Collection[R]) PageSize() int { return o.top }

// Query returns the parameters as url.Values.
func (o Collection[R]) Query() url.Values {
	q := url.Values{}
	o.query(q)

	if o.top > 0 {
		q.Set("$top", strconv.Itoa(o.top))
	}

	if len(o.orderBy) > 0 {
		q.Set("$orderby", strings.Join(o.orderBy, ","))
	}

	if o.filter != "" {
		q.Set("$filter", o.filter)
	}

	return q
}

// Encode returns the parameters as a query string without the leading "?".
func (o Collection[R]) Encode() string { return encode(o.Query()) }

// paramOrder fixes the emitted order so query strings are stable.
var paramOrder = []string{"$select", "$expand", "$top", "$orderby", "$filter"}

// encode is url.Values.Encode with a fixed key order and with "$" and ","
// left unescaped, which Graph accepts and which keeps URLs readable in logs.
func encode(q url.Values) string {
	var parts []string

	for _, k := range paramOrder {
		if v, ok := q[k]; ok && len(v) > 0 {
			parts = append(parts, k+"="+escapeValue(v[0]))
		}
	}

	return strings.Join(parts, "&")
}

func escapeValue(v string) string {
	s := url.QueryEscape(v)
	s = strings.ReplaceAll(s, "%24", "$")
	s = strings.ReplaceAll(s, "%2C", ",")
	s = strings.ReplaceAll(s, "%28", "(")
	s = strings.ReplaceAll(s, "%29", ")")
	s = strings.ReplaceAll(s, "%3D", "=")

	return s
}

func wireNames[R any](fields []resource.Selectable[R]) []string {
	names := make([]string, 0, len(fields))

	for _, f := range fields {
		if f == nil || f.IsZero() {
			panic("option: Select called with a zero field")
		}

		names = append(names, f.WireName())
	}

	return names
}

func expansionStrings[R any](e []Expansion[R]) []string {
	out := make([]string, 0, len(e))
	for _, x := range e {
		if x == nil {
			panic("option: Expand called with a nil expansion")
		}

		out = append(out, x.String())
	}

	return out
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}

	return dst
}
