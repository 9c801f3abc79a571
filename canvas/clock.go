package canvas

import (
	"time"
)

// timers for heartbeat, reconnect backoff, and batching are scheduled
// through a `Clock` so that tests can drive them deterministically.
// the zero value of the settings uses the system clock.

type Timer interface {
	// reports whether the timer was stopped before firing
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (self *systemClock) Now() time.Time {
	return time.Now()
}

func (self *systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
