package model

import "time"

// TLE is a two-line orbital element set for one object.
type TLE struct {
	Line1     string    `json:"line1"`
	Line2     string    `json:"line2"`
	Epoch     time.Time `json:"epoch,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Satellite is a tracked orbiting object and its most recent element set.
type Satellite struct {
	ID      int64  `json:"id"`
	NoradID int    `json:"norad_id"`
	Name    string `json:"name"`
	TLE     TLE    `json:"tle"`
}
