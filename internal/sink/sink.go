// Package sink publishes newly stored passes to external consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/groundpass/model"
)

// Record is the wire form of one stored pass.
type Record struct {
	model.StoredPass
	NoradID   int    `json:"norad_id,omitempty"`
	Satellite string `json:"satellite,omitempty"`
	Station   string `json:"station,omitempty"`
}

// Key identifies the (satellite, station) pair a record belongs to.
func (r Record) Key() string {
	return fmt.Sprintf("%d/%d", r.SatelliteID, r.GroundStationID)
}

func (r Record) encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode pass %d: %w", r.ID, err)
	}
	return b, nil
}

// Sink delivers batches of records somewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, records []Record) error
	Close() error
}
