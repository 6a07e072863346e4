package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// formatSize returns a binary-unit size such as "1.5 KiB". Negative sizes,
// which the service never reports, print as zero.
func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}

	return humanize.IBytes(uint64(n))
}

// formatTime shows the time of day for this year's dates and the year
// otherwise.
func formatTime(t time.Time) string {
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns. headers and each row must have the same
// length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func itemKind(item *resource.DriveItem) string {
	switch {
	case item.IsRoot():
		return "root"
	case item.IsFolder():
		return "folder"
	case item.Package != nil:
		return "package"
	case item.IsFile():
		return "file"
	default:
		return "item"
	}
}

// itemPath returns the item's drive path when the server reported its
// parent's path, which delta responses usually omit.
func itemPath(item *resource.DriveItem) string {
	if item.ParentReference == nil || item.ParentReference.Path == "" {
		return ""
	}

	p := item.ParentReference.Path
	if _, after, ok := strings.Cut(p, ":"); ok {
		p = after
	}

	if p == "" {
		p = "/"
	}

	return path.Join(p, item.Name)
}
