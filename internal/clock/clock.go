// Package clock abstracts the server's time source so the meter can be tested
// deterministically. All elapsed and billed figures derive from this clock,
// never from client-reported time.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }
