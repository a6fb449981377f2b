package thermostat

import "time"

type HeatLossSimulatorParams struct {
	OutdoorTemperature float64
	Coefficient        float64 // >= 0, represents conductivity. 0 for no loss.
	HeaterPower        float64 // >= 0, °C per second gained with the emitter fully on.
}

func (params *HeatLossSimulatorParams) Validate() error {
	if params.Coefficient < 0 {
		return ErrNegativeHeatLossCoefficient
	}
	if params.HeaterPower < 0 {
		return ErrNegativeHeaterPower
	}
	return nil
}

// HeatLossSimulator is a single-node room model used by the simulated host.
type HeatLossSimulator struct {
	params HeatLossSimulatorParams
}

func NewHeatLossSimulator(params HeatLossSimulatorParams) (*HeatLossSimulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &HeatLossSimulator{params: params}, nil
}

func (heatLoss *HeatLossSimulator) OutdoorTemperature() float64 {
	return heatLoss.params.OutdoorTemperature
}

func (heatLoss *HeatLossSimulator) SetOutdoorTemperature(v float64) {
	heatLoss.params.OutdoorTemperature = v
}

func (heatLoss *HeatLossSimulator) DeltaTemperature(indoorTemperature float64, dt time.Duration) float64 {
	diff := heatLoss.params.OutdoorTemperature - indoorTemperature
	return heatLoss.params.Coefficient * diff * dt.Seconds()
}

// Step returns the indoor temperature after dt with the emitter delivering
// heatFraction (0..1, negative for cooling) of its power.
func (heatLoss *HeatLossSimulator) Step(indoorTemperature, heatFraction float64, dt time.Duration) float64 {
	gain := heatLoss.params.HeaterPower * heatFraction * dt.Seconds()
	return indoorTemperature + heatLoss.DeltaTemperature(indoorTemperature, dt) + gain
}
