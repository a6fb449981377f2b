// Package clock provides the two time sources the control core relies on.
// Monotonic instants are for in-session interval math; wall time is for
// timestamps that outlive the process. The two are never compared.
package clock

import "time"

type Clock interface {
	// Monotonic returns the time elapsed since the clock was created.
	Monotonic() time.Duration
	// Now returns the current wall time in UTC.
	Now() time.Time
}

type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Monotonic() time.Duration {
	// time.Since uses the monotonic reading captured in start
	return time.Since(s.start)
}

func (s *System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a clock advanced by hand, for tests and simulations.
type Manual struct {
	mono time.Duration
	wall time.Time
}

func NewManual(wall time.Time) *Manual {
	return &Manual{wall: wall.UTC()}
}

func (m *Manual) Monotonic() time.Duration { return m.mono }

func (m *Manual) Now() time.Time { return m.wall }

// Advance moves both clocks forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mono += d
	m.wall = m.wall.Add(d)
}

// SetWall moves only the wall clock, like an NTP correction would.
func (m *Manual) SetWall(t time.Time) {
	m.wall = t.UTC()
}
