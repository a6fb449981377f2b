package ports

import (
	"context"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/status"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// Status is the zone snapshot exposed to controllers.
type Status struct {
	ID                     string                 `json:"id"`
	Mode                   thermostat.Mode        `json:"mode"`
	HeatingType            thermostat.HeatingType `json:"heating_type"`
	TemperatureSetpoint    float64                `json:"temperature_setpoint"`
	TemperatureSetpointMin float64                `json:"temperature_setpoint_min"`
	TemperatureSetpointMax float64                `json:"temperature_setpoint_max"`
	CurrentTemperature     *float64               `json:"current_temperature"`
	OutdoorTemperature     *float64               `json:"outdoor_temperature"`
	ControlOutput          float64                `json:"control_output"`
	HeaterActive           bool                   `json:"heater_active"`
	Activity               status.Activity        `json:"activity"`
	Paused                 bool                   `json:"paused"`
	Overrides              []status.Override      `json:"overrides"`
	Gains                  gains.Gains            `json:"gains"`
	LearningStatus         string                 `json:"learning_status"`
	ConvergenceConfidence  float64                `json:"convergence_confidence"`
	CycleCount             int                    `json:"cycle_count"`
	AutoApplyCount         int                    `json:"auto_apply_count"`
	ThermalDebt            float64                `json:"thermal_debt"`
	CumulativeKiMultiplier float64                `json:"cumulative_ki_multiplier"`
	PIDConverged           bool                   `json:"pid_converged"`
	KeLearningEnabled      bool                   `json:"ke_learning_enabled"`
}

// ThermostatService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type ThermostatService interface {
	Get() Status
	SetSetpoint(ctx context.Context, v float64) error
	SetMode(ctx context.Context, m thermostat.Mode) error
	SetCurrentTemperature(v float64)
	SetOutdoorTemperature(v float64)
	SetContactOpen(ctx context.Context, open bool) error

	Gains(mode thermostat.Mode) gains.Gains
	// SetGains merges u into the current gains of mode.
	SetGains(ctx context.Context, mode thermostat.Mode, u gains.Update) (gains.Gains, error)
	History(mode thermostat.Mode) []gains.HistoryEntry
	RestoreHistory(ctx context.Context, mode thermostat.Mode, index int) (gains.HistoryEntry, error)
	DeleteHistory(ctx context.Context, mode thermostat.Mode, indices ...int) error
	ResetToPhysics(ctx context.Context) error
	// ApplyRecommendation reports false when there is nothing to recommend.
	ApplyRecommendation(ctx context.Context, mode thermostat.Mode) (gains.Gains, bool, error)
}
