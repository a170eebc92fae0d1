package engine

import "time"

// Clock is the wall-clock source for jobs. Jobs read time only through a
// Clock so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
