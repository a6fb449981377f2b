// Package state persists everything a zone learns across restarts.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ke"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
)

const CurrentVersion = 3

type ModeBlock struct {
	CycleHistory          []learning.CycleMetrics `json:"cycle_history"`
	AutoApplyCount        int                     `json:"auto_apply_count"`
	ConvergenceConfidence float64                 `json:"convergence_confidence"`
	LastAutoApply         *time.Time              `json:"last_auto_apply,omitempty"`
}

type UndershootBlock struct {
	// TimeBelowTarget is in seconds.
	TimeBelowTarget        float64 `json:"time_below_target"`
	ThermalDebt            float64 `json:"thermal_debt"`
	CumulativeKiMultiplier float64 `json:"cumulative_ki_multiplier"`
}

type GainsBlock struct {
	Heating *gains.Gains `json:"heating,omitempty"`
	Cooling *gains.Gains `json:"cooling,omitempty"`
}

// AutoApplyBlock holds the auto-apply safety state: the open validation
// window, the gains a rollback returns to and the apply limits.
type AutoApplyBlock struct {
	Validation    learning.ValidationState `json:"validation"`
	PreApplyGains *gains.Gains             `json:"pre_apply_gains,omitempty"`
}

type KeLearnerBlock struct {
	Enabled      bool             `json:"enabled"`
	Observations []ke.Observation `json:"observations"`
}

// Document is the current (v3) layout.
type Document struct {
	Version                    int             `json:"version"`
	Heating                    ModeBlock       `json:"heating"`
	Cooling                    ModeBlock       `json:"cooling"`
	Undershoot                 UndershootBlock `json:"undershoot_detector"`
	PIDHistory                 json.RawMessage `json:"pid_history,omitempty"`
	LastAdjustmentTime         *time.Time      `json:"last_adjustment_time"`
	ConsecutiveConvergedCycles int             `json:"consecutive_converged_cycles"`
	PIDConvergedForKe          bool            `json:"pid_converged_for_ke"`
	Gains                      GainsBlock      `json:"gains"`
	KeLearner                  *KeLearnerBlock `json:"ke_learner,omitempty"`
	AutoApply                  *AutoApplyBlock `json:"auto_apply,omitempty"`

	// Mirrors of the heating block for readers of the previous layout.
	CycleHistory          []learning.CycleMetrics `json:"cycle_history"`
	AutoApplyCount        int                     `json:"auto_apply_count"`
	ConvergenceConfidence float64                 `json:"convergence_confidence"`
}

// Encode writes d in the current layout, filling the legacy mirrors.
func Encode(d Document) ([]byte, error) {
	d.Version = CurrentVersion
	d.CycleHistory = d.Heating.CycleHistory
	d.AutoApplyCount = d.Heating.AutoApplyCount
	d.ConvergenceConfidence = d.Heating.ConvergenceConfidence
	if d.Undershoot.CumulativeKiMultiplier == 0 {
		d.Undershoot.CumulativeKiMultiplier = 1.0
	}
	return json.Marshal(d)
}

// wire layouts, oldest first

type docV1 struct {
	CycleHistory               json.RawMessage `json:"cycle_history"`
	AutoApplyCount             int             `json:"auto_apply_count"`
	ConvergenceConfidence      float64         `json:"convergence_confidence"`
	PIDHistory                 json.RawMessage `json:"pid_history"`
	LastAdjustmentTime         *string         `json:"last_adjustment_time"`
	ConsecutiveConvergedCycles int             `json:"consecutive_converged_cycles"`
	PIDConvergedForKe          bool            `json:"pid_converged_for_ke"`
}

type wireModeBlock struct {
	CycleHistory          json.RawMessage `json:"cycle_history"`
	AutoApplyCount        int             `json:"auto_apply_count"`
	ConvergenceConfidence float64         `json:"convergence_confidence"`
	LastAutoApply         *time.Time      `json:"last_auto_apply"`
}

type docV2 struct {
	Heating                    wireModeBlock   `json:"heating"`
	Cooling                    wireModeBlock   `json:"cooling"`
	PIDHistory                 json.RawMessage `json:"pid_history"`
	LastAdjustmentTime         *string         `json:"last_adjustment_time"`
	ConsecutiveConvergedCycles int             `json:"consecutive_converged_cycles"`
	PIDConvergedForKe          bool            `json:"pid_converged_for_ke"`
	Gains                      GainsBlock      `json:"gains"`
	KeLearner                  *KeLearnerBlock `json:"ke_learner"`
}

type docV3 struct {
	docV2
	Undershoot *UndershootBlock `json:"undershoot_detector"`
	AutoApply  *AutoApplyBlock  `json:"auto_apply"`
}

func (d docV1) migrate() docV2 {
	return docV2{
		Heating: wireModeBlock{
			CycleHistory:          d.CycleHistory,
			AutoApplyCount:        d.AutoApplyCount,
			ConvergenceConfidence: d.ConvergenceConfidence,
		},
		PIDHistory:                 d.PIDHistory,
		LastAdjustmentTime:         d.LastAdjustmentTime,
		ConsecutiveConvergedCycles: d.ConsecutiveConvergedCycles,
		PIDConvergedForKe:          d.PIDConvergedForKe,
	}
}

func (d docV2) migrate() docV3 {
	return docV3{docV2: d}
}

func (d docV3) document() (Document, error) {
	out := Document{
		Version:                    CurrentVersion,
		Heating:                    d.Heating.block(),
		Cooling:                    d.Cooling.block(),
		Undershoot:                 UndershootBlock{CumulativeKiMultiplier: 1.0},
		PIDHistory:                 d.PIDHistory,
		ConsecutiveConvergedCycles: d.ConsecutiveConvergedCycles,
		PIDConvergedForKe:          d.PIDConvergedForKe,
		Gains:                      d.Gains,
		KeLearner:                  d.KeLearner,
		AutoApply:                  d.AutoApply,
	}
	if d.Undershoot != nil {
		out.Undershoot = *d.Undershoot
	}
	if d.LastAdjustmentTime != nil && *d.LastAdjustmentTime != "" {
		ts, err := gains.ParseTimestamp(*d.LastAdjustmentTime)
		if err != nil {
			return Document{}, fmt.Errorf("%w: last_adjustment_time: %v", ErrInvalidDocument, err)
		}
		out.LastAdjustmentTime = &ts
	}
	out.CycleHistory = out.Heating.CycleHistory
	out.AutoApplyCount = out.Heating.AutoApplyCount
	out.ConvergenceConfidence = out.Heating.ConvergenceConfidence
	return out, nil
}

func (b wireModeBlock) block() ModeBlock {
	return ModeBlock{
		CycleHistory:          decodeCycles(b.CycleHistory),
		AutoApplyCount:        b.AutoApplyCount,
		ConvergenceConfidence: b.ConvergenceConfidence,
		LastAutoApply:         b.LastAutoApply,
	}
}

// decodeCycles keeps the cycles it can read and drops the rest.
func decodeCycles(raw json.RawMessage) []learning.CycleMetrics {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]learning.CycleMetrics, 0, len(items))
	for _, item := range items {
		var m learning.CycleMetrics
		if err := json.Unmarshal(item, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type versionHint struct {
	Version    *int            `json:"version"`
	Heating    json.RawMessage `json:"heating"`
	Undershoot json.RawMessage `json:"undershoot_detector"`
}

func detectVersion(raw []byte) (int, error) {
	var p versionHint
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	switch {
	case p.Version != nil:
		return *p.Version, nil
	case len(p.Undershoot) > 0:
		return 3, nil
	case len(p.Heating) > 0:
		return 2, nil
	default:
		return 1, nil
	}
}

// Decode reads any supported layout and migrates it to the current one.
func Decode(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Document{}, fmt.Errorf("%w: empty", ErrInvalidDocument)
	}
	version, err := detectVersion(raw)
	if err != nil {
		return Document{}, err
	}

	var v3 docV3
	switch version {
	case 1:
		var d docV1
		if err := json.Unmarshal(raw, &d); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		v3 = d.migrate().migrate()
	case 2:
		var d docV2
		if err := json.Unmarshal(raw, &d); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		v3 = d.migrate()
	case 3:
		if err := json.Unmarshal(raw, &v3); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	default:
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return v3.document()
}
