// Package status derives the user-facing activity label and the list of
// active overrides. Everything here is a pure function of its input.
package status

import (
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityHeating    Activity = "heating"
	ActivityCooling    Activity = "cooling"
	ActivityPreheating Activity = "preheating"
	ActivitySettling   Activity = "settling"
)

type StateInput struct {
	Mode          thermostat.Mode
	HeaterOn      bool
	CoolerOn      bool
	PreheatActive bool
	CycleState    learning.CycleState
}

// DeriveState applies the fixed precedence off, preheating, settling,
// heating, cooling, idle.
func DeriveState(in StateInput) Activity {
	switch {
	case in.Mode == thermostat.ModeOff:
		return ActivityIdle
	case in.PreheatActive:
		return ActivityPreheating
	case in.CycleState == learning.CycleSettling:
		return ActivitySettling
	case in.HeaterOn:
		return ActivityHeating
	case in.CoolerOn:
		return ActivityCooling
	default:
		return ActivityIdle
	}
}

// ContactActionPause is the contact-sensor action that pauses the loop.
const ContactActionPause = "pause"

// IsPaused is true when an open contact pauses heating or humidity detection
// asks for a pause. Night setback only moves the setpoint and never pauses.
func IsPaused(contactAction string, humidityPaused bool) bool {
	return contactAction == ContactActionPause || humidityPaused
}

type OverrideType string

const (
	OverrideContactOpen   OverrideType = "contact_open"
	OverrideHumidity      OverrideType = "humidity"
	OverrideOpenWindow    OverrideType = "open_window"
	OverridePreheating    OverrideType = "preheating"
	OverrideNightSetback  OverrideType = "night_setback"
	OverrideLearningGrace OverrideType = "learning_grace"
)

// Override is one active override. Only the fields of its type are set.
type Override struct {
	Type OverrideType `json:"type"`

	// contact_open
	Sensors []string `json:"sensors,omitempty"`
	Action  string   `json:"action,omitempty"`
	// humidity
	State string `json:"state,omitempty"`
	// open_window, contact_open, preheating
	Since *time.Time `json:"since,omitempty"`
	// open_window resume time, preheating target time, learning_grace end
	Until *time.Time `json:"until,omitempty"`
	// humidity
	ResumeIn *time.Duration `json:"resume_in,omitempty"`
	// night_setback and preheating setpoint delta (°C)
	Delta *float64 `json:"delta,omitempty"`
	// night_setback end, as configured ("06:30" or "sunrise")
	Ends string `json:"ends,omitempty"`
	// night_setback limited by a learning floor
	LimitedTo *float64 `json:"limited_to,omitempty"`
}

type ContactInput struct {
	Open    bool
	Sensors []string
	Action  string
	Since   *time.Time
}

type HumidityInput struct {
	// State is "normal", "paused" or "stabilizing".
	State    string
	ResumeIn *time.Duration
}

type OpenWindowInput struct {
	Since    time.Time
	ResumeAt *time.Time
}

type PreheatInput struct {
	StartedAt  time.Time
	TargetTime time.Time
	Delta      float64
}

type NightSetbackInput struct {
	Delta     float64
	Ends      string
	LimitedTo *float64
}

type LearningGraceInput struct {
	Until time.Time
}

// OverrideInput describes every override source; nil means inactive.
type OverrideInput struct {
	Contact       *ContactInput
	Humidity      *HumidityInput
	OpenWindow    *OpenWindowInput
	Preheat       *PreheatInput
	NightSetback  *NightSetbackInput
	LearningGrace *LearningGraceInput
}

// BuildOverrides lists the active overrides in a fixed order: contact_open,
// humidity, open_window, preheating, night_setback, learning_grace.
func BuildOverrides(in OverrideInput) []Override {
	out := []Override{}
	if c := in.Contact; c != nil && c.Open {
		out = append(out, Override{
			Type:    OverrideContactOpen,
			Sensors: append([]string(nil), c.Sensors...),
			Action:  c.Action,
			Since:   c.Since,
		})
	}
	if h := in.Humidity; h != nil && h.State != "" && h.State != "normal" {
		out = append(out, Override{Type: OverrideHumidity, State: h.State, ResumeIn: h.ResumeIn})
	}
	if w := in.OpenWindow; w != nil {
		since := w.Since
		out = append(out, Override{Type: OverrideOpenWindow, Since: &since, Until: w.ResumeAt})
	}
	if p := in.Preheat; p != nil {
		started, target, delta := p.StartedAt, p.TargetTime, p.Delta
		out = append(out, Override{Type: OverridePreheating, Since: &started, Until: &target, Delta: &delta})
	}
	if n := in.NightSetback; n != nil {
		delta := n.Delta
		out = append(out, Override{Type: OverrideNightSetback, Delta: &delta, Ends: n.Ends, LimitedTo: n.LimitedTo})
	}
	if g := in.LearningGrace; g != nil {
		until := g.Until
		out = append(out, Override{Type: OverrideLearningGrace, Until: &until})
	}
	return out
}
