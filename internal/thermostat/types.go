package thermostat

import "fmt"

// Mode is an integer enum.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeOff
	ModeHeat
	ModeCool
)

func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeHeat || m == ModeCool
}

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	default:
		return "unknown"
	}
}

// HistoryKey is the key a mode is stored under in persisted documents.
func (m Mode) HistoryKey() string {
	if m == ModeCool {
		return "cooling"
	}
	return "heating"
}

// ParseMode is optional but handy for env vars / CLI.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "heat", "heating":
		return ModeHeat, nil
	case "cool", "cooling":
		return ModeCool, nil
	default:
		return ModeUnknown, fmt.Errorf("invalid mode: %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// HeatingType describes the emitter, which drives most learning thresholds.
type HeatingType int

const (
	HeatingUnknown HeatingType = iota
	FloorHydronic
	Radiator
	Convector
	ForcedAir
)

func (h HeatingType) Valid() bool {
	return h == FloorHydronic || h == Radiator || h == Convector || h == ForcedAir
}

func (h HeatingType) String() string {
	switch h {
	case FloorHydronic:
		return "floor_hydronic"
	case Radiator:
		return "radiator"
	case Convector:
		return "convector"
	case ForcedAir:
		return "forced_air"
	default:
		return "unknown"
	}
}

func ParseHeatingType(s string) (HeatingType, error) {
	switch s {
	case "floor_hydronic":
		return FloorHydronic, nil
	case "radiator":
		return Radiator, nil
	case "convector":
		return Convector, nil
	case "forced_air":
		return ForcedAir, nil
	default:
		return HeatingUnknown, fmt.Errorf("invalid heating type: %q", s)
	}
}

func (h HeatingType) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HeatingType) UnmarshalText(b []byte) error {
	v, err := ParseHeatingType(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
