package learning

import "time"

// UndershootDetector accumulates thermal debt while the room sits below the
// tolerance band. It works on the live signal, between cycle boundaries.
type UndershootDetector struct {
	profile Profile

	timeBelow   time.Duration
	thermalDebt float64 // °C·h
}

func NewUndershootDetector(p Profile) *UndershootDetector {
	return &UndershootDetector{profile: p}
}

// Update integrates dt of the deficit. Reaching the target clears the debt.
func (u *UndershootDetector) Update(dt time.Duration, current, target, tolerance float64) {
	if dt <= 0 {
		return
	}
	switch {
	case current < target-tolerance:
		u.timeBelow += dt
		u.thermalDebt += (target - current) * dt.Hours()
	case current >= target:
		u.Reset()
	}
}

// ShouldAdjust reports a debt large enough and old enough to warrant a Ki boost.
func (u *UndershootDetector) ShouldAdjust() bool {
	return u.thermalDebt >= u.profile.UndershootDebt && u.timeBelow >= u.profile.ChronicMinDuration
}

func (u *UndershootDetector) TimeBelowTarget() time.Duration { return u.timeBelow }

func (u *UndershootDetector) ThermalDebt() float64 { return u.thermalDebt }

func (u *UndershootDetector) Restore(timeBelow time.Duration, debt float64) {
	u.timeBelow = max(timeBelow, 0)
	u.thermalDebt = max(debt, 0)
}

func (u *UndershootDetector) Reset() {
	u.timeBelow = 0
	u.thermalDebt = 0
}
