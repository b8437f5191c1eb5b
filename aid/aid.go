// Package aid works with Misskey "aid" identifiers: primary keys whose first
// eight characters are the base-36 creation time in milliseconds since
// 2000-01-01T00:00:00Z, followed by random suffix characters.
package aid

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Epoch is 2000-01-01T00:00:00Z in Unix milliseconds.
const Epoch int64 = 946684800000

const (
	timeWidth = 8
	// suffix appended to a time prefix to get the smallest well-shaped id.
	suffix = "00"
)

// DefaultInterval is returned by ParseInterval for input it cannot read.
const DefaultInterval = 24 * time.Hour

var intervalRE = regexp.MustCompile(`(\d+)\s*(day|hour|minute)s?`)

var units = map[string]time.Duration{
	"day":    24 * time.Hour,
	"hour":   time.Hour,
	"minute": time.Minute,
}

// ParseInterval converts strings like "1 day", "7 days", "12 hours" or
// "30 minutes" into a duration. Anything unparseable yields DefaultInterval
// so that a bad window still produces a usable one-day query.
func ParseInterval(s string) time.Duration {
	switch s {
	case "1 day":
		return 24 * time.Hour
	case "7 days":
		return 7 * 24 * time.Hour
	case "30 days":
		return 30 * 24 * time.Hour
	}

	m := intervalRE.FindStringSubmatch(s)
	if m == nil {
		return DefaultInterval
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return DefaultInterval
	}
	unit := units[m[2]]
	if n > math.MaxInt64/int64(unit) {
		return DefaultInterval
	}
	return time.Duration(n) * unit
}

// EncodeTime returns the eight character time prefix of an aid for t.
// Offsets that do not fit (before 2000 or past 36^8 ms) are encoded as-is,
// which keeps the string comparison consistent with what Misskey itself
// generates for those instants.
func EncodeTime(t time.Time) string {
	enc := strconv.FormatInt(t.UnixMilli()-Epoch, 36)
	if len(enc) < timeWidth {
		enc = strings.Repeat("0", timeWidth-len(enc)) + enc
	}
	return enc
}

// LowerBound returns an id that sorts before every id created after
// now - ParseInterval(interval), for use in `"id" > $1` predicates.
func LowerBound(interval string, now time.Time) string {
	return EncodeTime(now.Add(-ParseInterval(interval))) + suffix
}
