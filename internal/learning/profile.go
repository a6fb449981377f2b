// Package learning turns observed heating cycles into gain adjustments and
// decides when those adjustments may be applied without a user.
package learning

import (
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// MaxUndershootKiMultiplier caps the cumulative Ki boost from approach and
// undershoot corrections.
const MaxUndershootKiMultiplier = 2.0

// Profile holds every heating-type dependent threshold.
type Profile struct {
	ChronicMinCycles   int
	ChronicUndershoot  float64
	ChronicMinDuration time.Duration
	ChronicMultiplier  float64
	ChronicCooldown    time.Duration

	ConfidenceScale float64

	AutoApplyCooldown       time.Duration
	AutoApplyCooldownCycles int
	AutoApplyMinCycles      int

	// UndershootDebt is the thermal debt (°C·h) that triggers a Ki boost.
	UndershootDebt float64

	ExpectedRise time.Duration
	MaxCycle     time.Duration
	SettleWindow time.Duration
}

var profiles = map[thermostat.HeatingType]Profile{
	thermostat.FloorHydronic: {
		ChronicMinCycles: 4, ChronicUndershoot: 0.30, ChronicMinDuration: 90 * time.Minute,
		ChronicMultiplier: 1.20, ChronicCooldown: 24 * time.Hour,
		ConfidenceScale:   0.8,
		AutoApplyCooldown: 96 * time.Hour, AutoApplyCooldownCycles: 15, AutoApplyMinCycles: 8,
		UndershootDebt: 2.0,
		ExpectedRise:   3 * time.Hour, MaxCycle: 8 * time.Hour, SettleWindow: time.Hour,
	},
	thermostat.Radiator: {
		ChronicMinCycles: 3, ChronicUndershoot: 0.35, ChronicMinDuration: 60 * time.Minute,
		ChronicMultiplier: 1.25, ChronicCooldown: 12 * time.Hour,
		ConfidenceScale:   0.9,
		AutoApplyCooldown: 72 * time.Hour, AutoApplyCooldownCycles: 12, AutoApplyMinCycles: 7,
		UndershootDebt: 1.5,
		ExpectedRise:   90 * time.Minute, MaxCycle: 4 * time.Hour, SettleWindow: 30 * time.Minute,
	},
	thermostat.Convector: {
		ChronicMinCycles: 3, ChronicUndershoot: 0.40, ChronicMinDuration: 30 * time.Minute,
		ChronicMultiplier: 1.30, ChronicCooldown: 6 * time.Hour,
		ConfidenceScale:   1.0,
		AutoApplyCooldown: 48 * time.Hour, AutoApplyCooldownCycles: 10, AutoApplyMinCycles: 6,
		UndershootDebt: 1.0,
		ExpectedRise:   45 * time.Minute, MaxCycle: 3 * time.Hour, SettleWindow: 20 * time.Minute,
	},
	thermostat.ForcedAir: {
		ChronicMinCycles: 2, ChronicUndershoot: 0.50, ChronicMinDuration: 15 * time.Minute,
		ChronicMultiplier: 1.35, ChronicCooldown: 3 * time.Hour,
		ConfidenceScale:   1.1,
		AutoApplyCooldown: 36 * time.Hour, AutoApplyCooldownCycles: 8, AutoApplyMinCycles: 6,
		UndershootDebt: 0.5,
		ExpectedRise:   20 * time.Minute, MaxCycle: 2 * time.Hour, SettleWindow: 10 * time.Minute,
	},
}

// ProfileFor returns the thresholds of t. Unknown types get the convector profile.
func ProfileFor(t thermostat.HeatingType) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[thermostat.Convector]
}
