package gains

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	calls []Gains
}

func (s *fakeSink) SetPIDParams(kp, ki, kd, ke float64) {
	s.calls = append(s.calls, Gains{Kp: kp, Ki: ki, Kd: kd, Ke: ke})
}

var t0 = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, mode *thermostat.Mode) (*Manager, *fakeSink, *clock.Manual) {
	t.Helper()
	sink := &fakeSink{}
	clk := clock.NewManual(t0)
	var resolve ModeResolver
	if mode != nil {
		resolve = func() thermostat.Mode { return *mode }
	}
	m := NewManager(DefaultConfig(), Gains{Kp: 1, Ki: 0.1, Kd: 5}, sink, resolve, clk, discardLogger())
	return m, sink, clk
}

func TestSetGains_PartialUpdateAndSync(t *testing.T) {
	m, sink, _ := newTestManager(t, nil)

	got := m.SetGains(ReasonManual, WithKp(2), WithActor(ActorUser))

	assert.Equal(t, Gains{Kp: 2, Ki: 0.1, Kd: 5}, got)
	assert.Equal(t, got, m.Gains(thermostat.ModeHeat))
	require.Len(t, sink.calls, 1)
	assert.Equal(t, got, sink.calls[0])

	h := m.History(thermostat.ModeHeat)
	require.Len(t, h, 1)
	assert.Equal(t, ReasonManual, h[0].Reason)
	assert.Equal(t, ActorUser, h[0].Actor)
	assert.Equal(t, t0, h[0].Timestamp)
}

func TestSetGains_DedupAgainstLastEntry(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	m.SetGains(ReasonManual, WithKp(2))
	m.SetGains(ReasonManual, WithKp(2.001))
	assert.Len(t, m.History(thermostat.ModeHeat), 1)

	m.SetGains(ReasonManual, WithKp(2.5))
	assert.Len(t, m.History(thermostat.ModeHeat), 2)

	// equal to an older entry but not the last one: recorded
	m.SetGains(ReasonManual, WithKp(2))
	assert.Len(t, m.History(thermostat.ModeHeat), 3)
}

func TestSetGains_DedupPrecisionConfigurable(t *testing.T) {
	precision := 4
	m := NewManager(Config{DedupPrecision: &precision}, Gains{}, nil, nil, clock.NewManual(t0), discardLogger())

	m.SetGains(ReasonManual, WithKp(2))
	m.SetGains(ReasonManual, WithKp(2.001))
	assert.Len(t, m.History(thermostat.ModeHeat), 2)
}

func TestSetGains_DedupPrecisionZero(t *testing.T) {
	precision := 0
	m := NewManager(Config{DedupPrecision: &precision}, Gains{}, nil, nil, clock.NewManual(t0), discardLogger())

	m.SetGains(ReasonManual, WithKp(2))
	m.SetGains(ReasonManual, WithKp(2.3))
	assert.Len(t, m.History(thermostat.ModeHeat), 1, "whole numbers only")

	m.SetGains(ReasonManual, WithKp(2.6))
	assert.Len(t, m.History(thermostat.ModeHeat), 2)
}

func TestConfig_DedupPrecisionDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.NotNil(t, cfg.DedupPrecision)
	assert.Equal(t, DefaultDedupPrecision, *cfg.DedupPrecision)

	zero := 0
	cfg = Config{DedupPrecision: &zero}.withDefaults()
	assert.Equal(t, 0, *cfg.DedupPrecision)
}

func TestSetGains_FIFOEviction(t *testing.T) {
	m := NewManager(Config{HistorySize: 3}, Gains{}, nil, nil, clock.NewManual(t0), discardLogger())

	for i := 1; i <= 5; i++ {
		m.SetGains(ReasonManual, WithKp(float64(i)))
	}

	h := m.History(thermostat.ModeHeat)
	require.Len(t, h, 3)
	assert.Equal(t, 3.0, h[0].Kp)
	assert.Equal(t, 5.0, h[2].Kp)
}

func TestSetGains_OnlySyncsActiveMode(t *testing.T) {
	mode := thermostat.ModeHeat
	m, sink, _ := newTestManager(t, &mode)

	m.SetGains(ReasonManual, WithKp(9), WithMode(thermostat.ModeCool))
	assert.Empty(t, sink.calls)
	assert.Equal(t, 9.0, m.Gains(thermostat.ModeCool).Kp)
	assert.Equal(t, 1.0, m.Gains(thermostat.ModeHeat).Kp)
	assert.Len(t, m.History(thermostat.ModeCool), 1)
	assert.Empty(t, m.History(thermostat.ModeHeat))

	mode = thermostat.ModeCool
	m.Sync()
	require.Len(t, sink.calls, 1)
	assert.Equal(t, 9.0, sink.calls[0].Kp)
}

func TestGains_CoolingFallsBackToHeating(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	assert.Equal(t, m.Gains(thermostat.ModeHeat), m.Gains(thermostat.ModeCool))
}

func TestGains_UnsetModeUsesResolver(t *testing.T) {
	mode := thermostat.ModeCool
	m, _, _ := newTestManager(t, &mode)

	m.SetGains(ReasonManual, WithKi(0.7))
	assert.Equal(t, 0.7, m.Gains(thermostat.ModeCool).Ki)
	assert.Equal(t, 0.1, m.Gains(thermostat.ModeHeat).Ki)

	mode = thermostat.ModeOff
	assert.Equal(t, 0.1, m.Gains(thermostat.ModeUnknown).Ki)
}

func TestDeleteHistoryEntries(t *testing.T) {
	fill := func(m *Manager) {
		for i := 1; i <= 5; i++ {
			m.SetGains(ReasonManual, WithKp(float64(i)))
		}
	}

	t.Run("deletes several", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		fill(m)
		require.NoError(t, m.DeleteHistoryEntries(thermostat.ModeHeat, 0, 2, 2, 4))
		h := m.History(thermostat.ModeHeat)
		require.Len(t, h, 2)
		assert.Equal(t, 2.0, h[0].Kp)
		assert.Equal(t, 4.0, h[1].Kp)
	})

	t.Run("invalid index mutates nothing", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		fill(m)
		err := m.DeleteHistoryEntries(thermostat.ModeHeat, 0, 7)
		assert.ErrorIs(t, err, ErrHistoryIndexOutOfRange)
		assert.Len(t, m.History(thermostat.ModeHeat), 5)
	})

	t.Run("negative index", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		fill(m)
		assert.ErrorIs(t, m.DeleteHistoryEntries(thermostat.ModeHeat, -1), ErrHistoryIndexOutOfRange)
	})

	t.Run("empty history", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		assert.ErrorIs(t, m.DeleteHistoryEntries(thermostat.ModeHeat, 0), ErrHistoryEmpty)
	})
}

func TestRestoreFromHistory(t *testing.T) {
	m, sink, clk := newTestManager(t, nil)
	m.SetGains(ReasonManual, WithKp(2), WithKe(0.3))
	clk.Advance(time.Hour)
	m.SetGains(ReasonAutoApply, WithKp(3), WithActor(ActorLearning))
	clk.Advance(time.Hour)

	entry, err := m.RestoreFromHistory(thermostat.ModeHeat, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, entry.Kp)

	g := m.Gains(thermostat.ModeHeat)
	assert.Equal(t, 2.0, g.Kp)
	assert.Equal(t, 0.3, g.Ke)
	assert.Equal(t, g, sink.calls[len(sink.calls)-1])

	h := m.History(thermostat.ModeHeat)
	require.Len(t, h, 3)
	assert.Equal(t, ReasonHistoryRestore, h[2].Reason)
	assert.Equal(t, ActorUser, h[2].Actor)
	assert.Equal(t, t0.Add(2*time.Hour), h[2].Timestamp)

	_, err = m.RestoreFromHistory(thermostat.ModeHeat, 3)
	assert.True(t, errors.Is(err, ErrHistoryIndexOutOfRange))

	_, err = m.RestoreFromHistory(thermostat.ModeCool, 0)
	assert.ErrorIs(t, err, ErrHistoryEmpty)
}

func TestRestoreFromHistory_LastEntryStillRecorded(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	m.SetGains(ReasonManual, WithKp(2))

	_, err := m.RestoreFromHistory(thermostat.ModeHeat, 0)
	require.NoError(t, err)
	assert.Len(t, m.History(thermostat.ModeHeat), 2)
}

func TestRestoreFromState_NoRedundantEntry(t *testing.T) {
	src, _, clk := newTestManager(t, nil)
	src.SetGains(ReasonPhysicsInit, WithGains(Gains{Kp: 1, Ki: 0.1, Kd: 5}))
	clk.Advance(time.Hour)
	src.SetGains(ReasonAutoApply, WithKp(1.5), WithMetrics(map[string]float64{"overshoot": 0.2}))
	raw, err := src.EncodeHistory()
	require.NoError(t, err)
	heating := src.Gains(thermostat.ModeHeat)

	dst, sink, _ := newTestManager(t, nil)
	require.NoError(t, dst.RestoreFromState(RestoredState{History: raw, Heating: &heating}))

	assert.Equal(t, heating, dst.Gains(thermostat.ModeHeat))
	assert.Equal(t, heating, sink.calls[len(sink.calls)-1])
	h := dst.History(thermostat.ModeHeat)
	require.Len(t, h, 2)
	assert.Equal(t, ReasonAutoApply, h[1].Reason)
	assert.Equal(t, 0.2, h[1].Metrics["overshoot"])
}

func TestRestoreFromState_BadHistoryStillRestoresGains(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	heating := Gains{Kp: 4, Ki: 0.2, Kd: 10, Ke: 0.5}

	err := m.RestoreFromState(RestoredState{History: []byte(`"nope"`), Heating: &heating})

	assert.ErrorIs(t, err, ErrInvalidHistory)
	assert.Equal(t, heating, m.Gains(thermostat.ModeHeat))
	h := m.History(thermostat.ModeHeat)
	require.Len(t, h, 1)
	assert.Equal(t, ReasonRestore, h[0].Reason)
}

func TestResetToPhysics(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	m.SetGains(ReasonAutoApply, WithKp(7))

	cooling := Gains{Kp: 0.5}
	m.ResetToPhysics(Gains{Kp: 1, Ki: 0.1, Kd: 5}, &cooling)

	assert.Equal(t, 1.0, m.Gains(thermostat.ModeHeat).Kp)
	assert.Equal(t, 0.5, m.Gains(thermostat.ModeCool).Kp)
	h := m.History(thermostat.ModeHeat)
	assert.Equal(t, ReasonPhysicsReset, h[len(h)-1].Reason)
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	m.SetGains(ReasonManual, WithKp(2))

	s := m.Snapshot()
	s.History[thermostat.ModeHeat][0].Kp = 99

	assert.Equal(t, 2.0, m.History(thermostat.ModeHeat)[0].Kp)
	assert.Nil(t, s.Cooling)

	b, err := json.Marshal(s.History[thermostat.ModeHeat][0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ke":0`)
}
