package learning

import "github.com/Agrid-Dev/adaptherm/internal/thermostat"

const (
	// RecoveryDeficit is how far below target a cycle must start to count as a recovery.
	RecoveryDeficit = 0.5

	Tier1RecoveryCycles = 2
	Tier2RecoveryCycles = 4
)

// ContributionTracker counts recovery cycles: cycles that started well below
// target and still reached it. Confidence tiers are only granted with enough of them.
// Only the last MaxCycleHistory cycles count, the same window that is persisted.
type ContributionTracker struct {
	window map[thermostat.Mode][]bool
}

func NewContributionTracker() *ContributionTracker {
	return &ContributionTracker{window: map[thermostat.Mode][]bool{}}
}

func isRecovery(m CycleMetrics) bool {
	return m.ReachedSetpoint() && m.TargetTemperature-m.StartTemperature >= RecoveryDeficit
}

func (c *ContributionTracker) AddCycle(mode thermostat.Mode, m CycleMetrics) {
	mode = historyMode(mode)
	w := append(c.window[mode], isRecovery(m))
	if over := len(w) - MaxCycleHistory; over > 0 {
		w = append([]bool(nil), w[over:]...)
	}
	c.window[mode] = w
}

func (c *ContributionTracker) RecoveryCycles(mode thermostat.Mode) int {
	n := 0
	for _, r := range c.window[historyMode(mode)] {
		if r {
			n++
		}
	}
	return n
}

// CanReachTier reports whether mode has the recovery cycles tier requires.
func (c *ContributionTracker) CanReachTier(tier int, mode thermostat.Mode) bool {
	n := c.RecoveryCycles(mode)
	switch tier {
	case 1:
		return n >= Tier1RecoveryCycles
	case 2:
		return n >= Tier2RecoveryCycles
	default:
		return tier < 1
	}
}

// Rebuild recounts recoveries from a restored cycle history.
func (c *ContributionTracker) Rebuild(mode thermostat.Mode, cycles []CycleMetrics) {
	c.Reset(mode)
	for _, m := range cycles {
		c.AddCycle(mode, m)
	}
}

func (c *ContributionTracker) Reset(mode thermostat.Mode) {
	delete(c.window, historyMode(mode))
}
