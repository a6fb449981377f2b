package testutil

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// FakeThermostatService is a reusable fake implementing ports.ThermostatService.
// Put ONLY what multiple test packages need here.
type FakeThermostatService struct {
	mu sync.Mutex
	S  ports.Status
	H  map[thermostat.Mode][]gains.HistoryEntry

	SetSetpointCalled bool
	SetSetpointArg    float64
	SetSetpointErr    error

	SetModeCalled bool
	SetModeArg    thermostat.Mode
	SetModeErr    error

	SetContactOpenArg *bool
	SetContactOpenErr error

	SetGainsMode thermostat.Mode
	SetGainsErr  error

	RestoreMode  thermostat.Mode
	RestoreIndex int
	RestoreErr   error

	DeleteIndices []int
	DeleteErr     error

	ResetCalled bool
	ResetErr    error

	// Recommendation is returned by ApplyRecommendation when set.
	Recommendation *gains.Gains
}

func NewFakeThermostatService() *FakeThermostatService {
	g := gains.Gains{Kp: 20, Ki: 0.05, Kd: 1.5, Ke: 0.3}
	return &FakeThermostatService{
		S: ports.Status{
			ID:                     "default",
			Mode:                   thermostat.ModeHeat,
			HeatingType:            thermostat.Radiator,
			TemperatureSetpoint:    21,
			TemperatureSetpointMin: 5,
			TemperatureSetpointMax: 30,
			CurrentTemperature:     thermostat.Float(19.5),
			OutdoorTemperature:     thermostat.Float(4),
			ControlOutput:          42.5,
			Gains:                  g,
			LearningStatus:         "collecting",
			CumulativeKiMultiplier: 1,
		},
		H: map[thermostat.Mode][]gains.HistoryEntry{
			thermostat.ModeHeat: {{Gains: g, Reason: gains.ReasonPhysicsInit, Actor: gains.ActorSystem}},
		},
	}
}

func (f *FakeThermostatService) Get() ports.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeThermostatService) SetSetpoint(_ context.Context, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetSetpointCalled = true
	f.SetSetpointArg = v
	if f.SetSetpointErr != nil {
		return f.SetSetpointErr
	}
	f.S.TemperatureSetpoint = v
	return nil
}

func (f *FakeThermostatService) SetMode(_ context.Context, m thermostat.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetModeCalled = true
	f.SetModeArg = m
	if f.SetModeErr != nil {
		return f.SetModeErr
	}
	f.S.Mode = m
	return nil
}

func (f *FakeThermostatService) SetCurrentTemperature(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.S.CurrentTemperature = &v
}

func (f *FakeThermostatService) SetOutdoorTemperature(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.S.OutdoorTemperature = &v
}

func (f *FakeThermostatService) SetContactOpen(_ context.Context, open bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetContactOpenArg = &open
	if f.SetContactOpenErr != nil {
		return f.SetContactOpenErr
	}
	f.S.Paused = open
	return nil
}

func (f *FakeThermostatService) Gains(thermostat.Mode) gains.Gains {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S.Gains
}

func (f *FakeThermostatService) SetGains(_ context.Context, mode thermostat.Mode, u gains.Update) (gains.Gains, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetGainsMode = mode
	if f.SetGainsErr != nil {
		return gains.Gains{}, f.SetGainsErr
	}
	g := f.S.Gains.With(u)
	f.S.Gains = g
	f.H[thermostat.ModeHeat] = append(f.H[thermostat.ModeHeat], gains.HistoryEntry{
		Gains: g, Reason: gains.ReasonManual, Actor: gains.ActorUser,
	})
	return g, nil
}

func (f *FakeThermostatService) History(mode thermostat.Mode) []gains.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gains.HistoryEntry(nil), f.H[mode]...)
}

func (f *FakeThermostatService) RestoreHistory(_ context.Context, mode thermostat.Mode, index int) (gains.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestoreMode, f.RestoreIndex = mode, index
	if f.RestoreErr != nil {
		return gains.HistoryEntry{}, f.RestoreErr
	}
	if index < 0 || index >= len(f.H[mode]) {
		return gains.HistoryEntry{}, gains.ErrHistoryIndexOutOfRange
	}
	e := f.H[mode][index]
	f.S.Gains = e.Gains
	return e, nil
}

func (f *FakeThermostatService) DeleteHistory(_ context.Context, _ thermostat.Mode, indices ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteIndices = append([]int(nil), indices...)
	return f.DeleteErr
}

func (f *FakeThermostatService) ResetToPhysics(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResetCalled = true
	return f.ResetErr
}

func (f *FakeThermostatService) ApplyRecommendation(_ context.Context, _ thermostat.Mode) (gains.Gains, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Recommendation == nil {
		return f.S.Gains, false, nil
	}
	f.S.Gains = *f.Recommendation
	return f.S.Gains, true, nil
}
