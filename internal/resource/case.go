package resource

import "strings"

// SnakeToCamel converts a snake_case field name to the camelCase form used
// on the wire: "last_modified_date_time" becomes "lastModifiedDateTime".
func SnakeToCamel(name string) string {
	if !strings.Contains(name, "_") {
		return name
	}

	var b strings.Builder
	b.Grow(len(name))

	upper := false

	for _, r := range name {
		if r == '_' {
			upper = true
			continue
		}

		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
