// Package tle reads NORAD two-line element sets: parsing three-line blocks,
// validating line structure and checksums, decoding epochs and fetching
// groups from CelesTrak.
package tle

import "time"

// Entry is one named element set.
type Entry struct {
	NoradID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// Dataset is a parsed batch of entries from one source.
type Dataset struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Entries   []Entry   `json:"entries"`
}
