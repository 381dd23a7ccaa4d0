// Package clock supplies client timestamps for local edits.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, truncated to milliseconds in UTC so that a timestamp
// survives a round trip through storage unchanged.
type System struct{}

// Now returns the current wall clock time.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
