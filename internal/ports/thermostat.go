package ports

import (
	"context"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// TemperatureState is the read-only temperature view managers depend on.
type TemperatureState interface {
	CurrentTemperature() *float64
	TargetTemperature() *float64
	OutdoorTemperature() *float64
	Tolerances() (cold, hot float64)
}

type HVACState interface {
	Mode() thermostat.Mode
}

// ThermostatState composes the narrow views for callers that need both.
type ThermostatState interface {
	TemperatureState
	HVACState
}

// Actuator drives the physical heater or cooler. Implementations must make
// TurnOn and TurnOff idempotent; retries are their concern.
type Actuator interface {
	TurnOn(ctx context.Context, mode thermostat.Mode) error
	TurnOff(ctx context.Context, mode thermostat.Mode) error
	IsActive(mode thermostat.Mode) bool
}
