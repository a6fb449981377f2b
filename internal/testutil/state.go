package testutil

import "github.com/Agrid-Dev/adaptherm/internal/thermostat"

// FakeState implements ports.ThermostatState with plain fields.
type FakeState struct {
	Current  *float64
	Target   *float64
	Outdoor  *float64
	Cold     float64
	Hot      float64
	HVACMode thermostat.Mode
}

func (f *FakeState) CurrentTemperature() *float64    { return f.Current }
func (f *FakeState) TargetTemperature() *float64     { return f.Target }
func (f *FakeState) OutdoorTemperature() *float64    { return f.Outdoor }
func (f *FakeState) Tolerances() (cold, hot float64) { return f.Cold, f.Hot }
func (f *FakeState) Mode() thermostat.Mode           { return f.HVACMode }
