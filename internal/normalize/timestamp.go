package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// timestampLayouts are tried in order. The set covers the formats the
// supported platforms actually emit: Twitter's legacy format, ISO-8601 with
// or without fractional seconds and zone, space-separated datetimes with a
// numeric zone, RSS-style RFC 1123, and the wire format of some broadcast
// transcript feeds.
var timestampLayouts = []string{
	"Mon Jan 2 15:04:05 -0700 2006", // twitter created_at
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"15:04 2 Jan 2006",
}

// unsignedZone matches a space-separated datetime whose zone offset lacks a
// sign, e.g. "2026-03-04 10:11:12 0300".
var unsignedZone = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) (\d{4})$`)

// ParseTimestamp parses a timestamp in any of the accepted formats and
// returns it in UTC. Formats without zone information are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if m := unsignedZone.FindStringSubmatch(s); m != nil {
		if t, err := time.Parse("2006-01-02 15:04:05 -0700", m[1]+" +"+m[2]); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
