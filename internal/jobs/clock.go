package jobs

import "time"

// Clock abstracts waiting between polls so tests can drive time by hand
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock
func RealClock() Clock { return realClock{} }
