package timectrl

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNakedTimestamp is returned for instants that do not carry an explicit zone.
var ErrNakedTimestamp = errors.New("timestamp has no explicit time zone")

// RequireExplicitZone rejects instants whose zone was never chosen by the caller:
// the zero time and values in the process-local zone (time.Local). The returned
// instant is normalised to UTC.
func RequireExplicitZone(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("%w: zero instant", ErrNakedTimestamp)
	}
	if t.Location() == time.Local {
		return time.Time{}, fmt.Errorf("%w: %s is in the implicit local zone", ErrNakedTimestamp, t.Format(time.RFC3339Nano))
	}
	return t.UTC(), nil
}

// ParseInstant parses an RFC 3339 / ISO 8601 timestamp that must end in "Z" or a
// numeric UTC offset. Strings without a zone designator are rejected instead of
// being assumed UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrNakedTimestamp)
	}
	if !hasZoneDesignator(s) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNakedTimestamp, s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// hasZoneDesignator looks at the part after the date for a trailing Z or an
// explicit +hh:mm / -hh:mm offset.
func hasZoneDesignator(s string) bool {
	tIdx := strings.IndexAny(s, "Tt ")
	if tIdx < 0 {
		return false
	}
	clock := s[tIdx+1:]
	if strings.HasSuffix(clock, "Z") || strings.HasSuffix(clock, "z") {
		return true
	}
	return strings.ContainsAny(clock, "+-")
}
