package testutil

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// FakeActuator is a reusable fake implementing ports.Actuator.
// Put ONLY what multiple test packages need here.
type FakeActuator struct {
	mu     sync.Mutex
	active map[thermostat.Mode]bool

	TurnOnCalls  []thermostat.Mode
	TurnOffCalls []thermostat.Mode

	TurnOnErr  error
	TurnOffErr error
}

func NewFakeActuator() *FakeActuator {
	return &FakeActuator{active: map[thermostat.Mode]bool{}}
}

func (f *FakeActuator) TurnOn(_ context.Context, mode thermostat.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TurnOnCalls = append(f.TurnOnCalls, mode)
	if f.TurnOnErr != nil {
		return f.TurnOnErr
	}
	f.active[mode] = true
	return nil
}

func (f *FakeActuator) TurnOff(_ context.Context, mode thermostat.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TurnOffCalls = append(f.TurnOffCalls, mode)
	if f.TurnOffErr != nil {
		return f.TurnOffErr
	}
	f.active[mode] = false
	return nil
}

func (f *FakeActuator) IsActive(mode thermostat.Mode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[mode]
}

// SetActive changes the state behind the controller's back, like a manual switch would.
func (f *FakeActuator) SetActive(mode thermostat.Mode, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[mode] = on
}

func (f *FakeActuator) Calls() (on, off int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.TurnOnCalls), len(f.TurnOffCalls)
}
