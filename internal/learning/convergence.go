package learning

// DefaultConvergedCycles is the streak of converged cycles after which the PID
// loop counts as converged.
const DefaultConvergedCycles = 3

// ConvergenceTracker latches once the loop has produced enough converged
// cycles in a row. The latch survives gain changes; the streak does not.
type ConvergenceTracker struct {
	required    int
	consecutive int
	converged   bool
}

func NewConvergenceTracker(required int) *ConvergenceTracker {
	if required <= 0 {
		required = DefaultConvergedCycles
	}
	return &ConvergenceTracker{required: required}
}

// AddCycle returns true on the cycle that first latches convergence.
func (c *ConvergenceTracker) AddCycle(m CycleMetrics) bool {
	if !IsConverged(m) {
		c.consecutive = 0
		return false
	}
	c.consecutive++
	if !c.converged && c.consecutive >= c.required {
		c.converged = true
		return true
	}
	return false
}

func (c *ConvergenceTracker) PIDConverged() bool { return c.converged }

func (c *ConvergenceTracker) ConsecutiveConverged() int { return c.consecutive }

func (c *ConvergenceTracker) ResetStreak() { c.consecutive = 0 }

func (c *ConvergenceTracker) Restore(consecutive int, converged bool) {
	c.consecutive = max(consecutive, 0)
	c.converged = converged
}
