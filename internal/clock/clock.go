// Package clock supplies wall-clock instants to the tracker.
package clock

import "time"

// Clock returns the current instant.
//
// The tracker stamps first_indexed and last_indexed from a Clock so tests can
// substitute a manual clock and assert exact values.
type Clock interface {
	Now() time.Time
}

// System is the production clock. Instants are UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
