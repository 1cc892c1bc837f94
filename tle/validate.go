package tle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LineLength is the fixed width of a TLE data line.
const LineLength = 69

// ErrMalformed is returned for element lines that fail structural checks.
var ErrMalformed = errors.New("malformed TLE")

// Checksum computes the modulo-10 checksum over the first 68 columns: digits
// count their value, '-' counts one, everything else zero.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < len(line) && i < LineLength-1; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// Validate checks both lines before they are handed to the propagator: width,
// line numbers, matching catalogue numbers, checksums and the numeric fields
// SGP4 initialisation reads.
func Validate(line1, line2 string) error {
	for i, line := range []string{line1, line2} {
		n := i + 1
		if len(line) != LineLength {
			return fmt.Errorf("%w: line %d has %d columns, want %d", ErrMalformed, n, len(line), LineLength)
		}
		if line[0] != byte('0'+n) || line[1] != ' ' {
			return fmt.Errorf("%w: line %d does not start with %q", ErrMalformed, n, fmt.Sprintf("%d ", n))
		}
		want := int(line[LineLength-1] - '0')
		if want < 0 || want > 9 {
			return fmt.Errorf("%w: line %d checksum column is not a digit", ErrMalformed, n)
		}
		if got := Checksum(line); got != want {
			return fmt.Errorf("%w: line %d checksum %d, want %d", ErrMalformed, n, got, want)
		}
	}

	id1, err := catalogNumber(line1)
	if err != nil {
		return err
	}
	id2, err := catalogNumber(line2)
	if err != nil {
		return err
	}
	if id1 != id2 {
		return fmt.Errorf("%w: catalogue numbers differ (%d vs %d)", ErrMalformed, id1, id2)
	}

	if _, err := ParseEpoch(strings.TrimSpace(line1[18:32])); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, f := range []struct {
		name       string
		line       string
		start, end int
	}{
		{"inclination", line2, 8, 16},
		{"raan", line2, 17, 25},
		{"arg of perigee", line2, 34, 42},
		{"mean anomaly", line2, 43, 51},
		{"mean motion", line2, 52, 63},
	} {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f.line[f.start:f.end]), 64); err != nil {
			return fmt.Errorf("%w: %s field %q", ErrMalformed, f.name, f.line[f.start:f.end])
		}
	}
	if _, err := strconv.Atoi(strings.TrimSpace(line2[26:33])); err != nil {
		return fmt.Errorf("%w: eccentricity field %q", ErrMalformed, line2[26:33])
	}
	return nil
}

func catalogNumber(line string) (int, error) {
	raw := strings.TrimSpace(line[2:7])
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: catalogue number %q", ErrMalformed, raw)
	}
	return id, nil
}

// ParseEpoch decodes a YYDDD.DDDDDDDD epoch. Two-digit years 57-99 are 1957-1999,
// 00-56 are 2000-2056. Day 1.0 is January 1st 00:00 UTC.
func ParseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %w", s[2:], err)
	}
	if day < 1 || day >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", day)
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	// Microsecond resolution is what the 8 decimal places carry.
	offset := time.Duration((day - 1) * float64(24*time.Hour)).Round(time.Microsecond)
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset), nil
}
