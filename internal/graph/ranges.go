package graph

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned when range text cannot be parsed.
var ErrInvalidRange = errors.New("graph: invalid byte range")

// ExpectRange is a half-open byte interval [Start, End). End == 0 means the
// range is open-ended ("everything from Start on"); a bounded range always
// has End > Start, so the two cases cannot collide.
//
// The wire form used by upload sessions is "{start}-{last}" with an inclusive
// last byte, or "{start}-" when open-ended.
type ExpectRange struct {
	Start int64
	End   int64
}

// ParseExpectRange parses the wire form. "42-196" yields {42, 197} and
// "42-" yields an open range starting at 42.
func ParseExpectRange(s string) (ExpectRange, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return ExpectRange{}, fmt.Errorf("%w: %q has no '-'", ErrInvalidRange, s)
	}

	start, err := parseOffset(lo)
	if err != nil {
		return ExpectRange{}, fmt.Errorf("%w: %q: start: %w", ErrInvalidRange, s, err)
	}

	if hi == "" {
		return ExpectRange{Start: start}, nil
	}

	last, err := parseOffset(hi)
	if err != nil {
		return ExpectRange{}, fmt.Errorf("%w: %q: end: %w", ErrInvalidRange, s, err)
	}

	if last < start {
		return ExpectRange{}, fmt.Errorf("%w: %q: end before start", ErrInvalidRange, s)
	}

	if last == math.MaxInt64 {
		return ExpectRange{}, fmt.Errorf("%w: %q: end overflows", ErrInvalidRange, s)
	}

	return ExpectRange{Start: start, End: last + 1}, nil
}

// parseOffset accepts only non-empty runs of ASCII digits. strconv alone
// would also accept a sign.
func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty")
	}

	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("unexpected character %q", s[i])
		}
	}

	return strconv.ParseInt(s, 10, 64)
}

// IsOpen reports whether the range has no upper bound.
func (r ExpectRange) IsOpen() bool { return r.End == 0 }

// Len returns the number of bytes in a bounded range, or -1 if open.
func (r ExpectRange) Len() int64 {
	if r.IsOpen() {
		return -1
	}

	return r.End - r.Start
}

// Close returns r with an open end replaced by size.
func (r ExpectRange) Close(size int64) ExpectRange {
	if r.IsOpen() {
		r.End = size
	}

	return r
}

// Contains reports whether the bounded range other lies entirely inside r.
func (r ExpectRange) Contains(other ExpectRange) bool {
	if other.IsOpen() || other.Start < r.Start {
		return false
	}

	return r.IsOpen() || other.End <= r.End
}

// ContentRange renders the Content-Range header value for a bounded range of
// a file with the given total size.
func (r ExpectRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End-1, total)
}

func (r ExpectRange) String() string {
	if r.IsOpen() {
		return strconv.FormatInt(r.Start, 10) + "-"
	}

	return strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End-1, 10)
}

// MarshalText implements encoding.TextMarshaler using the wire form.
func (r ExpectRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using the wire form.
func (r *ExpectRange) UnmarshalText(text []byte) error {
	parsed, err := ParseExpectRange(string(text))
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}
