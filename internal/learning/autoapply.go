package learning

import (
	"log/slog"
	"math"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

const (
	MinCyclesForLearning = 6

	tier1Base       = 0.40
	tier2Base       = 0.70
	tier3Confidence = 0.95
	maxTierScaled   = 0.95

	// SubsequentLearningMultiplier raises the cycle requirement after the first apply.
	SubsequentLearningMultiplier = 2.0
)

type LearningStatus int

const (
	StatusCollecting LearningStatus = iota
	StatusStable
	StatusTuned
	StatusOptimized
)

func (s LearningStatus) String() string {
	switch s {
	case StatusStable:
		return "stable"
	case StatusTuned:
		return "tuned"
	case StatusOptimized:
		return "optimized"
	default:
		return "collecting"
	}
}

// Validator gates applies on the outcome of previous ones and on hard limits.
type Validator interface {
	IsInValidation() bool
	CheckAutoApplyLimits(autoApplyCount int, drift float64) string
	CheckSeasonalShift(outdoor *float64) bool
	RecordSeasonalShift(outdoor *float64)
}

type ConfidenceSource interface {
	AutoApplyCount(mode thermostat.Mode) int
	ConvergenceConfidence(mode thermostat.Mode) float64
	CycleCount(mode thermostat.Mode) int
}

type TierGate interface {
	CanReachTier(tier int, mode thermostat.Mode) bool
}

// TierThresholds returns the tier 1 to 3 confidence thresholds for a heating type.
func TierThresholds(p Profile) (t1, t2, t3 float64) {
	t1 = math.Min(tier1Base*p.ConfidenceScale, maxTierScaled)
	t2 = math.Min(tier2Base*p.ConfidenceScale, maxTierScaled)
	return t1, t2, tier3Confidence
}

// ComputeLearningStatus maps cycle count and confidence to a status, demoting
// tiers whose recovery-cycle requirement is not met.
func ComputeLearningStatus(cycles int, confidence float64, p Profile, mode thermostat.Mode, gate TierGate) LearningStatus {
	if cycles < MinCyclesForLearning {
		return StatusCollecting
	}
	t1, t2, t3 := TierThresholds(p)
	var s LearningStatus
	switch {
	case confidence >= t3:
		s = StatusOptimized
	case confidence >= t2:
		s = StatusTuned
	case confidence >= t1:
		s = StatusStable
	default:
		return StatusCollecting
	}
	if gate == nil {
		return s
	}
	if s >= StatusTuned && !gate.CanReachTier(2, mode) {
		s = StatusStable
	}
	if s == StatusStable && !gate.CanReachTier(1, mode) {
		s = StatusCollecting
	}
	return s
}

type GateInput struct {
	Mode               thermostat.Mode
	OutdoorTemperature *float64
	// Drift of the current gains from the physics gains, see Drift.
	Drift float64
}

type GateDecision struct {
	Allowed             bool
	Reason              string
	Status              LearningStatus
	MinIntervalHours    float64
	MinAdjustmentCycles int
	MinCycles           int
}

// Ready reports whether the caller's own counters satisfy an allowed decision.
func (d GateDecision) Ready(cycles, cyclesSinceApply int, sinceApply *time.Duration) bool {
	if !d.Allowed || cycles < d.MinCycles {
		return false
	}
	if sinceApply == nil {
		return true
	}
	return cyclesSinceApply >= d.MinAdjustmentCycles && sinceApply.Hours() >= d.MinIntervalHours
}

// AutoApplyManager decides whether learned gains may be applied without a user.
type AutoApplyManager struct {
	heatingType thermostat.HeatingType
	profile     Profile
	validator   Validator
	confidence  ConfidenceSource
	tiers       TierGate
	lg          *slog.Logger
}

func NewAutoApplyManager(ht thermostat.HeatingType, v Validator, c ConfidenceSource, g TierGate, lg *slog.Logger) *AutoApplyManager {
	if lg == nil {
		lg = slog.Default()
	}
	return &AutoApplyManager{
		heatingType: ht,
		profile:     ProfileFor(ht),
		validator:   v,
		confidence:  c,
		tiers:       g,
		lg:          lg.With("component", "auto_apply"),
	}
}

func (a *AutoApplyManager) LearningStatus(mode thermostat.Mode) LearningStatus {
	return ComputeLearningStatus(
		a.confidence.CycleCount(mode),
		a.confidence.ConvergenceConfidence(mode),
		a.profile, mode, a.tiers,
	)
}

func (a *AutoApplyManager) block(in GateInput, reason string, status LearningStatus) GateDecision {
	a.lg.Info("auto-apply blocked", "mode", in.Mode.String(), "reason", reason, "status", status.String())
	return GateDecision{Reason: reason, Status: status}
}

// CheckSafetyGates runs the gates in order; the first failing one wins.
func (a *AutoApplyManager) CheckSafetyGates(in GateInput) GateDecision {
	count := a.confidence.AutoApplyCount(in.Mode)

	if a.validator != nil {
		if a.validator.IsInValidation() {
			return a.block(in, "validation_in_progress", StatusCollecting)
		}
		if reason := a.validator.CheckAutoApplyLimits(count, in.Drift); reason != "" {
			return a.block(in, reason, StatusCollecting)
		}
		if a.validator.CheckSeasonalShift(in.OutdoorTemperature) {
			a.validator.RecordSeasonalShift(in.OutdoorTemperature)
			return a.block(in, "seasonal_shift", StatusCollecting)
		}
	}

	status := a.LearningStatus(in.Mode)
	first := count == 0
	switch {
	case first && status < StatusTuned:
		return a.block(in, "learning_status_"+status.String(), status)
	case !first && status < StatusOptimized:
		return a.block(in, "learning_status_"+status.String(), status)
	}

	minCycles := a.profile.AutoApplyMinCycles
	if !first {
		minCycles = int(math.Round(float64(minCycles) * SubsequentLearningMultiplier))
	}
	return GateDecision{
		Allowed:             true,
		Status:              status,
		MinIntervalHours:    a.profile.AutoApplyCooldown.Hours(),
		MinAdjustmentCycles: a.profile.AutoApplyCooldownCycles,
		MinCycles:           minCycles,
	}
}
