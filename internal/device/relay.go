package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// Relay is an actuator with nothing wired behind it. It records which emitter
// is on and logs the transitions; the state reaches the outside world through
// the zone status (MQTT status, Modbus coil 0).
type Relay struct {
	mu     sync.Mutex
	active map[thermostat.Mode]bool
	lg     *slog.Logger
}

func NewRelay(lg *slog.Logger) *Relay {
	if lg == nil {
		lg = slog.Default()
	}
	return &Relay{active: map[thermostat.Mode]bool{}, lg: lg.With("component", "relay")}
}

func (r *Relay) TurnOn(_ context.Context, mode thermostat.Mode) error {
	r.set(mode, true)
	return nil
}

func (r *Relay) TurnOff(_ context.Context, mode thermostat.Mode) error {
	r.set(mode, false)
	return nil
}

func (r *Relay) IsActive(mode thermostat.Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[mode]
}

func (r *Relay) set(mode thermostat.Mode, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[mode] != on {
		r.lg.Debug("emitter switched", "mode", mode.String(), "on", on)
	}
	r.active[mode] = on
}
