// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Clock implements widget.Clock. Readings are UTC and truncated to the
// microsecond, the finest precision Postgres and sqlite keep, so a timestamp
// reads back equal to what was written.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
