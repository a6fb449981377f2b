package learning

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type ValidationConfig struct {
	ValidationCycles     int           `koanf:"validation_cycles"`
	DegradationThreshold float64       `koanf:"degradation_threshold"`
	MaxLifetimeApplies   int           `koanf:"max_lifetime_applies"`
	MaxSeasonalApplies   int           `koanf:"max_seasonal_applies"`
	SeasonWindow         time.Duration `koanf:"season_window"`
	MaxDrift             float64       `koanf:"max_drift"`
	SeasonalShiftDelta   float64       `koanf:"seasonal_shift_delta"`
	SeasonalShiftBlock   time.Duration `koanf:"seasonal_shift_block"`
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		ValidationCycles:     3,
		DegradationThreshold: 0.3,
		MaxLifetimeApplies:   20,
		MaxSeasonalApplies:   5,
		SeasonWindow:         90 * 24 * time.Hour,
		MaxDrift:             1.0,
		SeasonalShiftDelta:   8.0,
		SeasonalShiftBlock:   7 * 24 * time.Hour,
	}
}

func (c ValidationConfig) Validate() error {
	if c.ValidationCycles <= 0 || c.MaxLifetimeApplies <= 0 || c.MaxSeasonalApplies <= 0 {
		return fmt.Errorf("%w: validation counts must be positive", ErrInvalidConfig)
	}
	if c.DegradationThreshold < 0 || c.MaxDrift <= 0 || c.SeasonalShiftDelta <= 0 {
		return fmt.Errorf("%w: validation thresholds", ErrInvalidConfig)
	}
	if c.SeasonWindow <= 0 || c.SeasonalShiftBlock < 0 {
		return fmt.Errorf("%w: validation windows", ErrInvalidConfig)
	}
	return nil
}

type ValidationOutcome int

const (
	ValidationPending ValidationOutcome = iota
	ValidationPassed
	ValidationDegraded
)

func (o ValidationOutcome) String() string {
	switch o {
	case ValidationPassed:
		return "passed"
	case ValidationDegraded:
		return "degraded"
	default:
		return "pending"
	}
}

// ValidationManager watches the cycles following an automatic apply, enforces
// apply limits and detects seasonal shifts of the outdoor temperature.
type ValidationManager struct {
	cfg ValidationConfig
	clk clock.Clock
	lg  *slog.Logger

	inValidation bool
	mode         thermostat.Mode
	baseline     float64
	scores       []float64

	applies          []time.Time
	referenceOutdoor *float64
	lastShift        *time.Time
}

func NewValidationManager(cfg ValidationConfig, clk clock.Clock, lg *slog.Logger) *ValidationManager {
	if lg == nil {
		lg = slog.Default()
	}
	return &ValidationManager{cfg: cfg, clk: clk, lg: lg.With("component", "validation")}
}

func (v *ValidationManager) IsInValidation() bool { return v.inValidation }

// StartValidation opens a validation window after an apply. baseline is the
// mean cycle score before the apply.
func (v *ValidationManager) StartValidation(mode thermostat.Mode, baseline float64, outdoor *float64) {
	v.inValidation = true
	v.mode = historyMode(mode)
	v.baseline = baseline
	v.scores = v.scores[:0]
	v.applies = append(v.pruneApplies(v.clk.Now()), v.clk.Now())
	if outdoor != nil {
		o := *outdoor
		v.referenceOutdoor = &o
	}
}

// AddCycle feeds a cycle into the open window. The outcome is final once
// ValidationCycles cycles were seen.
func (v *ValidationManager) AddCycle(mode thermostat.Mode, m CycleMetrics) ValidationOutcome {
	if !v.inValidation || historyMode(mode) != v.mode {
		return ValidationPending
	}
	v.scores = append(v.scores, m.Score())
	if len(v.scores) < v.cfg.ValidationCycles {
		return ValidationPending
	}
	v.inValidation = false
	mean := meanOf(v.scores)
	if mean > v.baseline+v.cfg.DegradationThreshold {
		v.lg.Warn("auto-applied gains degraded performance", "baseline", v.baseline, "score", mean)
		return ValidationDegraded
	}
	v.lg.Info("auto-applied gains validated", "baseline", v.baseline, "score", mean)
	return ValidationPassed
}

// CancelValidation closes the window without an outcome.
func (v *ValidationManager) CancelValidation() {
	v.inValidation = false
	v.scores = v.scores[:0]
}

// CheckAutoApplyLimits returns the reason an apply is not allowed, or "".
// drift is the relative distance of the current gains from the physics gains.
func (v *ValidationManager) CheckAutoApplyLimits(autoApplyCount int, drift float64) string {
	now := v.clk.Now()
	if autoApplyCount >= v.cfg.MaxLifetimeApplies {
		return "lifetime_limit"
	}
	recent := 0
	for _, at := range v.applies {
		if now.Sub(at) < v.cfg.SeasonWindow {
			recent++
		}
	}
	if recent >= v.cfg.MaxSeasonalApplies {
		return "seasonal_limit"
	}
	if drift > v.cfg.MaxDrift {
		return "drift_limit"
	}
	if v.lastShift != nil && now.Sub(*v.lastShift) < v.cfg.SeasonalShiftBlock {
		return "seasonal_shift_cooldown"
	}
	return ""
}

// CheckSeasonalShift reports whether the outdoor temperature moved far enough
// from the one of the last apply to invalidate learned gains.
func (v *ValidationManager) CheckSeasonalShift(outdoor *float64) bool {
	if outdoor == nil || v.referenceOutdoor == nil {
		return false
	}
	return math.Abs(*outdoor-*v.referenceOutdoor) >= v.cfg.SeasonalShiftDelta
}

// RecordSeasonalShift starts the shift block and rebases the reference temperature.
func (v *ValidationManager) RecordSeasonalShift(outdoor *float64) {
	now := v.clk.Now()
	v.lastShift = &now
	if outdoor != nil {
		o := *outdoor
		v.referenceOutdoor = &o
	}
	v.lg.Info("seasonal shift recorded", "blocked_for", v.cfg.SeasonalShiftBlock.String())
}

// pruneApplies drops the applies that left the season window.
func (v *ValidationManager) pruneApplies(now time.Time) []time.Time {
	kept := v.applies[:0]
	for _, at := range v.applies {
		if now.Sub(at) < v.cfg.SeasonWindow {
			kept = append(kept, at)
		}
	}
	return kept
}

// ValidationState is the part of the manager that survives a restart.
type ValidationState struct {
	InValidation     bool            `json:"in_validation"`
	Mode             thermostat.Mode `json:"mode,omitempty"`
	Baseline         float64         `json:"baseline"`
	Scores           []float64       `json:"scores,omitempty"`
	Applies          []time.Time     `json:"applies,omitempty"`
	ReferenceOutdoor *float64        `json:"reference_outdoor,omitempty"`
	LastShift        *time.Time      `json:"last_seasonal_shift,omitempty"`
}

func (v *ValidationManager) State() ValidationState {
	s := ValidationState{
		InValidation:     v.inValidation,
		Baseline:         v.baseline,
		Scores:           append([]float64(nil), v.scores...),
		Applies:          append([]time.Time(nil), v.applies...),
		ReferenceOutdoor: v.referenceOutdoor,
		LastShift:        v.lastShift,
	}
	if v.inValidation {
		s.Mode = v.mode
	}
	return s
}

// Restore replaces the manager state with s. Applies outside the season
// window are dropped.
func (v *ValidationManager) Restore(s ValidationState) {
	v.inValidation = s.InValidation
	v.mode = historyMode(s.Mode)
	v.baseline = s.Baseline
	v.scores = append([]float64(nil), s.Scores...)
	v.applies = append([]time.Time(nil), s.Applies...)
	v.applies = v.pruneApplies(v.clk.Now())
	v.referenceOutdoor = s.ReferenceOutdoor
	v.lastShift = s.LastShift
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// BaselineScore is the mean score of the last n cycles.
func BaselineScore(cycles []CycleMetrics, n int) float64 {
	if len(cycles) > n {
		cycles = cycles[len(cycles)-n:]
	}
	scores := make([]float64, 0, len(cycles))
	for _, m := range cycles {
		scores = append(scores, m.Score())
	}
	return meanOf(scores)
}
