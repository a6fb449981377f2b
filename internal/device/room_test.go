package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/testutil"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

func TestRoom_AdvanceFollowsEmitter(t *testing.T) {
	model, err := thermostat.NewHeatLossSimulator(thermostat.HeatLossSimulatorParams{
		OutdoorTemperature: 20,
		HeaterPower:        0.001,
	})
	require.NoError(t, err)
	r := NewRoom(model, 20)

	assert.Equal(t, 20.0, r.Advance(time.Minute))

	require.NoError(t, r.TurnOn(context.Background(), thermostat.ModeHeat))
	assert.InDelta(t, 20.06, r.Advance(time.Minute), 1e-9)

	require.NoError(t, r.TurnOff(context.Background(), thermostat.ModeHeat))
	require.NoError(t, r.TurnOn(context.Background(), thermostat.ModeCool))
	assert.InDelta(t, 20.0, r.Advance(time.Minute), 1e-9)
}

func TestRoom_ClosedLoopWarmsUp(t *testing.T) {
	model, err := thermostat.NewHeatLossSimulator(thermostat.HeatLossSimulatorParams{
		OutdoorTemperature: 5,
		Coefficient:        1e-5,
		HeaterPower:        5e-4,
	})
	require.NoError(t, err)
	room := NewRoom(model, 17)
	clk := clock.NewManual(time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC))

	d, err := New(context.Background(), "sim", newThermostat(t, thermostat.ModeHeat), testConfig(), Deps{
		Actuator: room,
		Clock:    clk,
		Logger:   testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	for i := 0; i < 4*60; i++ {
		require.NoError(t, room.Step(context.Background(), d, time.Minute))
		clk.Advance(time.Minute)
	}

	assert.Greater(t, room.Temperature(), 18.0)
	assert.Equal(t, 5.0, *d.Get().OutdoorTemperature)
}

func TestRelay_TracksEmitters(t *testing.T) {
	r := NewRelay(testutil.DiscardLogger())
	ctx := context.Background()

	assert.False(t, r.IsActive(thermostat.ModeHeat))
	require.NoError(t, r.TurnOn(ctx, thermostat.ModeHeat))
	require.NoError(t, r.TurnOn(ctx, thermostat.ModeHeat))
	assert.True(t, r.IsActive(thermostat.ModeHeat))
	assert.False(t, r.IsActive(thermostat.ModeCool))

	require.NoError(t, r.TurnOff(ctx, thermostat.ModeHeat))
	assert.False(t, r.IsActive(thermostat.ModeHeat))
}
