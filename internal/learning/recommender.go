package learning

import (
	"math"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
)

const (
	// MinCyclesForRecommendation is the number of recent cycles a recommendation is based on.
	MinCyclesForRecommendation = 3
	// MaxGainStep bounds the relative change of any gain in one recommendation.
	MaxGainStep = 0.2
)

// Recommender proposes gains from the recent cycle history using fixed rules.
type Recommender struct {
	profile Profile
}

func NewRecommender(p Profile) *Recommender {
	return &Recommender{profile: p}
}

// Recommendation carries the proposed gains and the metrics they were derived from.
type Recommendation struct {
	Gains   gains.Gains
	Metrics map[string]float64
}

// Recommend returns false when there is not enough data or nothing to change.
func (r *Recommender) Recommend(current gains.Gains, cycles []CycleMetrics) (Recommendation, bool) {
	if len(cycles) < MinCyclesForRecommendation {
		return Recommendation{}, false
	}
	recent := cycles[len(cycles)-MinCyclesForRecommendation:]

	var overshoot, undershoot, oscillations, rise float64
	risen := 0
	for _, m := range recent {
		overshoot += m.overshoot()
		undershoot += m.undershoot()
		oscillations += float64(m.Oscillations)
		if m.RiseTime != nil {
			rise += m.RiseTime.Minutes()
			risen++
		}
	}
	n := float64(len(recent))
	overshoot /= n
	undershoot /= n
	oscillations /= n

	kp, ki, kd := 1.0, 1.0, 1.0
	if overshoot > 0.3 {
		kp *= 0.9
		kd *= 1.1
	}
	if oscillations > 2 {
		kp *= 0.85
		ki *= 0.8
	}
	if risen > 0 && rise/float64(risen) > r.profile.ExpectedRise.Minutes() {
		kp *= 1.1
	}
	if undershoot > 0.2 && overshoot <= 0.3 {
		ki *= 1.1
	}
	if kp == 1 && ki == 1 && kd == 1 {
		return Recommendation{}, false
	}

	next := current
	next.Kp = current.Kp * clampStep(kp)
	next.Ki = current.Ki * clampStep(ki)
	next.Kd = current.Kd * clampStep(kd)
	metrics := map[string]float64{
		"overshoot":    overshoot,
		"undershoot":   undershoot,
		"oscillations": oscillations,
		"cycles":       n,
	}
	if risen > 0 {
		metrics["rise_time_min"] = rise / float64(risen)
	}
	return Recommendation{Gains: next, Metrics: metrics}, true
}

func clampStep(f float64) float64 {
	return math.Min(math.Max(f, 1-MaxGainStep), 1+MaxGainStep)
}

// Drift is the largest relative deviation of g from the reference gains.
func Drift(g, reference gains.Gains) float64 {
	d := 0.0
	for _, p := range [][2]float64{{g.Kp, reference.Kp}, {g.Ki, reference.Ki}, {g.Kd, reference.Kd}} {
		if p[1] == 0 {
			continue
		}
		d = math.Max(d, math.Abs(p[0]/p[1]-1))
	}
	return d
}
