package thermostat

import (
	"testing"
	"time"
)

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name   string
		params HeatLossSimulatorParams
		want   error
	}{
		{
			name:   "Valid params",
			params: HeatLossSimulatorParams{OutdoorTemperature: 10, Coefficient: 5, HeaterPower: 0.01},
			want:   nil,
		},
		{
			name:   "Invalid params with negative coefficient",
			params: HeatLossSimulatorParams{OutdoorTemperature: 10, Coefficient: -5},
			want:   ErrNegativeHeatLossCoefficient,
		},
		{
			name:   "Invalid params with negative heater power",
			params: HeatLossSimulatorParams{OutdoorTemperature: 10, Coefficient: 5, HeaterPower: -1},
			want:   ErrNegativeHeaterPower,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.params.Validate()
			if got != tt.want {
				t.Errorf("Got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeatLossDeltaTemperature(t *testing.T) {
	tests := []struct {
		name        string
		outdoorTemp float64
		indoorTemp  float64
		want        func(float64) bool
	}{
		{"Indoor temperature decreases if outdoor temperature is less", 5, 20, func(r float64) bool { return r < 0 }},
		{"Indoor temperature increases if outdoor temperature is more", 30, 20, func(r float64) bool { return r > 0 }},
		{"Indoor temperature is unchanged if equal to outdoor temperature", 20, 20, func(r float64) bool { return r == 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _ := NewHeatLossSimulator(HeatLossSimulatorParams{OutdoorTemperature: tt.outdoorTemp, Coefficient: 5})
			result := sim.DeltaTemperature(tt.indoorTemp, time.Second)
			if !tt.want(result) {
				t.Errorf("Test %q failed: got %v, initial %v", tt.name, result, tt.indoorTemp)
			}
		})
	}
}

func TestHeatLossStepHeaterCompensatesLoss(t *testing.T) {
	sim, err := NewHeatLossSimulator(HeatLossSimulatorParams{OutdoorTemperature: 0, Coefficient: 1e-4, HeaterPower: 5e-3})
	if err != nil {
		t.Fatal(err)
	}
	off := sim.Step(20, 0, time.Minute)
	on := sim.Step(20, 1, time.Minute)
	if off >= 20 {
		t.Fatalf("room should cool without heat, got %v", off)
	}
	if on <= 20 {
		t.Fatalf("room should warm at full heat, got %v", on)
	}

	sim.SetOutdoorTemperature(25)
	if sim.OutdoorTemperature() != 25 {
		t.Fatalf("outdoor temperature not updated")
	}
}
