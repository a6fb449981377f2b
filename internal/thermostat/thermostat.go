package thermostat

import "sync"

type Snapshot struct {
	Mode                   Mode
	HeatingType            HeatingType
	TemperatureSetpoint    float64
	TemperatureSetpointMin float64
	TemperatureSetpointMax float64
	ColdTolerance          float64
	HotTolerance           float64
	CurrentTemperature     *float64
	OutdoorTemperature     *float64
}

// Thermostat holds the host-facing state: what sensors report and what the
// user asked for. It is the temperature and mode provider for the managers.
type Thermostat struct {
	mu sync.RWMutex
	s  Snapshot
}

func New(initial Snapshot) (*Thermostat, error) {
	if err := validateSnapshot(initial); err != nil {
		return nil, err
	}
	return &Thermostat{s: initial}, nil
}

func validateSnapshot(s Snapshot) error {
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	if !s.HeatingType.Valid() {
		return ErrInvalidHeatingType
	}
	if s.TemperatureSetpointMin > s.TemperatureSetpointMax {
		return ErrInvalidMinMax
	}
	if s.TemperatureSetpoint < s.TemperatureSetpointMin || s.TemperatureSetpoint > s.TemperatureSetpointMax {
		return ErrSetpointOutOfRange
	}
	if s.ColdTolerance < 0 || s.HotTolerance < 0 {
		return ErrInvalidTolerance
	}
	return nil
}

func (t *Thermostat) Get() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.s
	s.CurrentTemperature = copyPtr(t.s.CurrentTemperature)
	s.OutdoorTemperature = copyPtr(t.s.OutdoorTemperature)
	return s
}

func (t *Thermostat) SetMode(m Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Mode = m
	return nil
}

func (t *Thermostat) SetMinMax(min, max float64) error {
	if min > max {
		return ErrInvalidMinMax
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Enforce current setpoint remains valid
	if t.s.TemperatureSetpoint < min || t.s.TemperatureSetpoint > max {
		return ErrSetpointOutOfRange
	}

	t.s.TemperatureSetpointMin = min
	t.s.TemperatureSetpointMax = max
	return nil
}

func (t *Thermostat) SetSetpoint(sp float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sp < t.s.TemperatureSetpointMin || sp > t.s.TemperatureSetpointMax {
		return ErrSetpointOutOfRange
	}
	t.s.TemperatureSetpoint = sp
	return nil
}

// SetCurrentTemperature records a sensor reading; nil marks the sensor unavailable.
func (t *Thermostat) SetCurrentTemperature(v *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.CurrentTemperature = copyPtr(v)
}

func (t *Thermostat) SetOutdoorTemperature(v *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.OutdoorTemperature = copyPtr(v)
}

func (t *Thermostat) CurrentTemperature() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyPtr(t.s.CurrentTemperature)
}

func (t *Thermostat) TargetTemperature() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sp := t.s.TemperatureSetpoint
	return &sp
}

func (t *Thermostat) OutdoorTemperature() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyPtr(t.s.OutdoorTemperature)
}

func (t *Thermostat) Tolerances() (cold, hot float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.ColdTolerance, t.s.HotTolerance
}

func (t *Thermostat) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.Mode
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v. Handy for optional readings.
func Float(v float64) *float64 {
	return &v
}
