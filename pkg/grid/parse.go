package grid

import (
	"strings"
	"time"
)

// timestampLayouts are tried in order; the first one that parses wins. This
// mirrors the permissiveness of pandas' to_datetime(errors="coerce"), which
// accepts a wide range of ISO-8601-ish string forms.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamps parses raw timestamp strings into time.Time values in UTC.
// Entries that fail to parse under every known layout are dropped silently,
// matching the contract of C1 in spec.md §4.1.
func ParseTimestamps(raw []string) []time.Time {
	out := make([]time.Time, 0, len(raw))

	for _, s := range raw {
		ts, ok := parseOne(s)
		if ok {
			out = append(out, ts.UTC())
		}
	}

	return out
}

func parseOne(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, trimmed)
		if err == nil {
			return ts, true
		}
	}

	return time.Time{}, false
}
