package defrag

import "time"

// Timer is a pending callback. Stop reports whether the cancellation
// prevented the callback from running; that return value authorizes
// dropping the reference the timer holds.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the engine so expiry and rekey can be driven
// by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the wall clock used by default.
func SystemClock() Clock { return systemClock{} }
