package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze "today" via
// SetClock. Production code uses the real clock; tests inject a fake for
// deterministic active-alert filtering and status derivation.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock. Report
// timestamps go through here so tests can pin them.
func Now() time.Time {
	return clock.Now()
}
