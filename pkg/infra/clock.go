package infra

import "time"

// Clock returns the current time. Everything that stamps or compares epoch
// seconds takes a Clock so tests can move time.
type Clock func() time.Time

func ProvideClock() Clock {
	return func() time.Time { return time.Now().UTC() }
}

// NewFixedClock returns a clock pinned to *now; tests advance it by writing
// through the pointer.
func NewFixedClock(now *time.Time) Clock {
	return func() time.Time { return *now }
}
