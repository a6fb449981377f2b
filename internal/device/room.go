package device

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// Room is a simulated zone: an on/off emitter driving a single-node heat-loss
// model. It implements ports.Actuator.
type Room struct {
	*Relay

	mu          sync.Mutex
	model       *thermostat.HeatLossSimulator
	temperature float64
}

func NewRoom(model *thermostat.HeatLossSimulator, initial float64) *Room {
	return &Room{
		Relay:       NewRelay(slog.New(slog.NewTextHandler(io.Discard, nil))),
		model:       model,
		temperature: initial,
	}
}

// Advance moves the model forward by dt and returns the new indoor temperature.
func (r *Room) Advance(dt time.Duration) float64 {
	fraction := 0.0
	if r.IsActive(thermostat.ModeHeat) {
		fraction++
	}
	if r.IsActive(thermostat.ModeCool) {
		fraction--
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.temperature = r.model.Step(r.temperature, fraction, dt)
	return r.temperature
}

func (r *Room) Temperature() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.temperature
}

func (r *Room) OutdoorTemperature() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.OutdoorTemperature()
}

// Step feeds the room readings to d and runs one tick. Simulations call it
// in a loop, advancing their clock by dt in between.
func (r *Room) Step(ctx context.Context, d *Device, dt time.Duration) error {
	d.SetCurrentTemperature(r.Advance(dt))
	d.SetOutdoorTemperature(r.OutdoorTemperature())
	return d.Tick(ctx)
}
