// Package system provides the wall clock used for report timestamps.
package system

import "time"

// Clock implements pipeline.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to milliseconds, the precision
// reports are rendered with.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
