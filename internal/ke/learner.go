package ke

import (
	"fmt"
	"math"
	"time"
)

const (
	MaxObservations = 200
	MinObservations = 12
	// MinOutdoorRange is the outdoor spread (°C) the observations must cover.
	MinOutdoorRange = 5.0
	MaxKe           = 2.0
	MaxKeStep       = 0.2
)

// Observation is one steady-state sample.
type Observation struct {
	Outdoor   float64   `json:"outdoor"`
	PIDOutput float64   `json:"pid_output"`
	Indoor    float64   `json:"indoor"`
	Target    float64   `json:"target"`
	At        time.Time `json:"at"`
}

// Learner stores steady-state observations and fits the outdoor compensation
// gain from them.
type Learner struct {
	enabled bool
	obs     []Observation
}

func NewLearner() *Learner { return &Learner{} }

func (l *Learner) Enabled() bool { return l.enabled }

func (l *Learner) Enable() { l.enabled = true }

func (l *Learner) Add(o Observation) {
	l.obs = append(l.obs, o)
	if over := len(l.obs) - MaxObservations; over > 0 {
		l.obs = append([]Observation(nil), l.obs[over:]...)
	}
}

func (l *Learner) Observations() []Observation {
	return append([]Observation(nil), l.obs...)
}

func (l *Learner) Restore(enabled bool, obs []Observation) {
	l.enabled = enabled
	l.obs = nil
	for _, o := range obs {
		l.Add(o)
	}
}

func (l *Learner) Reset() {
	l.enabled = false
	l.obs = nil
}

// Recommend fits the PID output left unexplained by currentKe against the
// indoor/outdoor difference. The slope of that residual is the Ke correction.
func (l *Learner) Recommend(currentKe float64) (float64, error) {
	if !l.enabled {
		return 0, ErrLearnerDisabled
	}
	if len(l.obs) < MinObservations {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(l.obs), MinObservations)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var sx, sy float64
	for _, o := range l.obs {
		lo = math.Min(lo, o.Outdoor)
		hi = math.Max(hi, o.Outdoor)
		dx := o.Target - o.Outdoor
		sx += dx
		sy += o.PIDOutput - currentKe*dx
	}
	if hi-lo < MinOutdoorRange {
		return 0, fmt.Errorf("%w: %.1f °C", ErrNarrowRange, hi-lo)
	}

	n := float64(len(l.obs))
	mx, my := sx/n, sy/n
	var cov, vx float64
	for _, o := range l.obs {
		dx := o.Target - o.Outdoor
		cov += (dx - mx) * (o.PIDOutput - currentKe*dx - my)
		vx += (dx - mx) * (dx - mx)
	}
	if vx == 0 {
		return 0, fmt.Errorf("%w: no variance", ErrNarrowRange)
	}

	step := math.Max(-MaxKeStep, math.Min(MaxKeStep, cov/vx))
	return math.Max(0, math.Min(MaxKe, currentKe+step)), nil
}
