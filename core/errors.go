package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidWindow is returned when a scan interval has start >= end.
	ErrInvalidWindow = errors.New("invalid window: start must be before end")
	// ErrInvalidOptions is returned for non-positive steps, chunk sizes and the like.
	ErrInvalidOptions = errors.New("invalid detection options")
	// ErrNotBracketed is returned by RefineCrossing when the two samples do not
	// straddle the threshold.
	ErrNotBracketed = errors.New("samples do not bracket the threshold")
)

// Propagation error codes for failures detected on the propagator output rather
// than reported by the propagation model itself.
const (
	CodeNonFinite      = -1
	CodeImplausibleOrb = -2
)

// PropagationError reports that the orbital state source failed for one
// instant. It is fatal for the detection call in progress and never retried.
type PropagationError struct {
	Instant time.Time
	Code    int
	Err     error
}

func (e *PropagationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("propagation failed at %s (code=%d): %v", e.Instant.Format(time.RFC3339Nano), e.Code, e.Err)
	}
	return fmt.Sprintf("propagation failed at %s (code=%d)", e.Instant.Format(time.RFC3339Nano), e.Code)
}

func (e *PropagationError) Unwrap() error { return e.Err }
