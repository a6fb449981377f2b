// Package gains owns the PID gains and their audit history. Every gain change
// in the system goes through Manager.SetGains.
package gains

import (
	"math"
	"time"
)

// Gains is a value type; use With to derive a modified copy.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	Ke float64 `json:"ke"`
}

// Update is a partial change: nil fields keep their current value.
type Update struct {
	Kp *float64
	Ki *float64
	Kd *float64
	Ke *float64
}

func (g Gains) With(u Update) Gains {
	if u.Kp != nil {
		g.Kp = *u.Kp
	}
	if u.Ki != nil {
		g.Ki = *u.Ki
	}
	if u.Kd != nil {
		g.Kd = *u.Kd
	}
	if u.Ke != nil {
		g.Ke = *u.Ke
	}
	return g
}

// Full returns an Update setting every field to g.
func (g Gains) Full() Update {
	return Update{Kp: &g.Kp, Ki: &g.Ki, Kd: &g.Kd, Ke: &g.Ke}
}

// EqualAt compares the four gains after rounding to precision decimals.
func (g Gains) EqualAt(o Gains, precision int) bool {
	return round(g.Kp, precision) == round(o.Kp, precision) &&
		round(g.Ki, precision) == round(o.Ki, precision) &&
		round(g.Kd, precision) == round(o.Kd, precision) &&
		round(g.Ke, precision) == round(o.Ke, precision)
}

func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

type Reason string

const (
	ReasonPhysicsInit     Reason = "physics_init"
	ReasonPhysicsReset    Reason = "physics_reset"
	ReasonAdaptiveApply   Reason = "adaptive_apply"
	ReasonAutoApply       Reason = "auto_apply"
	ReasonManual          Reason = "manual"
	ReasonRestore         Reason = "restore"
	ReasonHistoryRestore  Reason = "history_restore"
	ReasonRollback        Reason = "rollback"
	ReasonChronicApproach Reason = "chronic_approach"
	ReasonUndershoot      Reason = "undershoot"
	ReasonKePhysics       Reason = "ke_physics"
	ReasonKeLearning      Reason = "ke_learning"
)

type Actor string

const (
	ActorSystem   Actor = "system"
	ActorUser     Actor = "user"
	ActorLearning Actor = "learning"
)

// HistoryEntry is one audited gain change.
type HistoryEntry struct {
	Timestamp time.Time
	Gains
	Reason  Reason
	Actor   Actor
	Metrics map[string]float64
}
