// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Console waits are the slowest part of a dispatch job: a cold boot to
// a shell prompt can take minutes, and command timeouts range from
// seconds (sync) to hours (test runs). Code that waits on those
// deadlines accepts a Clock instead of calling the time package, so
// tests drive prompt-timeout behavior with [FakeClock.Advance] rather
// than sleeping.
//
// Production wiring:
//
//	conn := console.NewConnection(session, transcript, clock.Real(), logger)
//
// Test wiring:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the goroutine that waits ...
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
package clock

import "time"

// Clock is the time surface the dispatcher depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns the Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
