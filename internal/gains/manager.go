package gains

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

const (
	DefaultHistorySize    = 10
	DefaultDedupPrecision = 2
)

// PIDSink receives the gains of the active mode.
type PIDSink interface {
	SetPIDParams(kp, ki, kd, ke float64)
}

// ModeResolver reports the HVAC mode the zone is currently running in.
type ModeResolver func() thermostat.Mode

type Config struct {
	HistorySize int
	// DedupPrecision is the number of decimals compared; nil means
	// DefaultDedupPrecision.
	DedupPrecision *int
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.DedupPrecision == nil || *c.DedupPrecision < 0 {
		p := DefaultDedupPrecision
		c.DedupPrecision = &p
	}
	return c
}

// DefaultConfig returns the stock history size and dedup precision.
func DefaultConfig() Config {
	p := DefaultDedupPrecision
	return Config{HistorySize: DefaultHistorySize, DedupPrecision: &p}
}

type Option func(*setRequest)

type setRequest struct {
	update  Update
	mode    thermostat.Mode
	metrics map[string]float64
	actor   Actor
	force   bool
}

func WithKp(v float64) Option { return func(r *setRequest) { r.update.Kp = &v } }
func WithKi(v float64) Option { return func(r *setRequest) { r.update.Ki = &v } }
func WithKd(v float64) Option { return func(r *setRequest) { r.update.Kd = &v } }
func WithKe(v float64) Option { return func(r *setRequest) { r.update.Ke = &v } }

// WithGains replaces all four gains.
func WithGains(g Gains) Option { return func(r *setRequest) { r.update = g.Full() } }

func WithMode(m thermostat.Mode) Option { return func(r *setRequest) { r.mode = m } }

func WithMetrics(m map[string]float64) Option {
	return func(r *setRequest) { r.metrics = m }
}

func WithActor(a Actor) Option { return func(r *setRequest) { r.actor = a } }

// Snapshot is a read-only copy of the manager state.
type Snapshot struct {
	Heating Gains
	Cooling *Gains
	History map[thermostat.Mode][]HistoryEntry
}

// RestoredState carries the persisted pieces the manager restores at startup.
// History may be in any supported wire format.
type RestoredState struct {
	History []byte
	Heating *Gains
	Cooling *Gains
}

// Manager is the only place gains are mutated. It is not safe for concurrent
// use; the owning device serializes access.
type Manager struct {
	cfg     Config
	heating Gains
	cooling *Gains
	history map[thermostat.Mode][]HistoryEntry

	sink    PIDSink
	resolve ModeResolver
	clk     clock.Clock
	lg      *slog.Logger
}

func NewManager(cfg Config, heating Gains, sink PIDSink, resolve ModeResolver, clk clock.Clock, lg *slog.Logger) *Manager {
	if lg == nil {
		lg = slog.Default()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		heating: heating,
		history: map[thermostat.Mode][]HistoryEntry{},
		sink:    sink,
		resolve: resolve,
		clk:     clk,
		lg:      lg.With("component", "gains"),
	}
}

func (m *Manager) currentMode() thermostat.Mode {
	if m.resolve == nil {
		return thermostat.ModeHeat
	}
	if mode := m.resolve(); mode == thermostat.ModeCool {
		return mode
	}
	return thermostat.ModeHeat
}

func (m *Manager) target(mode thermostat.Mode) thermostat.Mode {
	switch mode {
	case thermostat.ModeHeat, thermostat.ModeCool:
		return mode
	default:
		return m.currentMode()
	}
}

// Gains returns the gains of mode. Cooling falls back to heating when no
// cooling gains were ever set.
func (m *Manager) Gains(mode thermostat.Mode) Gains {
	if m.target(mode) == thermostat.ModeCool && m.cooling != nil {
		return *m.cooling
	}
	return m.heating
}

// History returns a copy of the history of mode, oldest first.
func (m *Manager) History(mode thermostat.Mode) []HistoryEntry {
	h := m.history[m.target(mode)]
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Heating: m.heating,
		History: map[thermostat.Mode][]HistoryEntry{
			thermostat.ModeHeat: m.History(thermostat.ModeHeat),
			thermostat.ModeCool: m.History(thermostat.ModeCool),
		},
	}
	if m.cooling != nil {
		c := *m.cooling
		s.Cooling = &c
	}
	return s
}

// SetGains applies a partial update to the gains of the requested mode,
// pushes them to the sink if that mode is active and records a history entry
// unless the result equals the last recorded one.
func (m *Manager) SetGains(reason Reason, opts ...Option) Gains {
	req := setRequest{actor: ActorSystem}
	for _, opt := range opts {
		opt(&req)
	}
	return m.apply(reason, req)
}

func (m *Manager) apply(reason Reason, req setRequest) Gains {
	mode := m.target(req.mode)
	next := m.Gains(mode).With(req.update)
	if mode == thermostat.ModeCool {
		m.cooling = &next
	} else {
		m.heating = next
	}

	if mode == m.currentMode() {
		m.Sync()
	}

	if req.force || !m.matchesLast(mode, next) {
		m.record(mode, HistoryEntry{
			Timestamp: m.clk.Now(),
			Gains:     next,
			Reason:    reason,
			Actor:     req.actor,
			Metrics:   req.metrics,
		})
	}

	m.lg.Info("gains updated",
		"mode", mode.String(),
		"reason", string(reason),
		"actor", string(req.actor),
		"kp", next.Kp, "ki", next.Ki, "kd", next.Kd, "ke", next.Ke,
	)
	return next
}

// Sync pushes the gains of the active mode to the sink. Call it after a mode change.
func (m *Manager) Sync() {
	if m.sink == nil {
		return
	}
	g := m.Gains(m.currentMode())
	m.sink.SetPIDParams(g.Kp, g.Ki, g.Kd, g.Ke)
}

func (m *Manager) matchesLast(mode thermostat.Mode, g Gains) bool {
	h := m.history[mode]
	if len(h) == 0 {
		return false
	}
	return h[len(h)-1].Gains.EqualAt(g, *m.cfg.DedupPrecision)
}

func (m *Manager) record(mode thermostat.Mode, e HistoryEntry) {
	h := append(m.history[mode], e)
	if over := len(h) - m.cfg.HistorySize; over > 0 {
		h = append([]HistoryEntry(nil), h[over:]...)
	}
	m.history[mode] = h
}

func (m *Manager) checkIndex(mode thermostat.Mode, index int) error {
	n := len(m.history[mode])
	if n == 0 {
		return ErrHistoryEmpty
	}
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrHistoryIndexOutOfRange, index, n)
	}
	return nil
}

// RestoreFromHistory re-applies the entry at index as a user action.
func (m *Manager) RestoreFromHistory(mode thermostat.Mode, index int) (HistoryEntry, error) {
	mode = m.target(mode)
	if err := m.checkIndex(mode, index); err != nil {
		return HistoryEntry{}, err
	}
	entry := m.history[mode][index]
	m.apply(ReasonHistoryRestore, setRequest{
		update: entry.Gains.Full(),
		mode:   mode,
		actor:  ActorUser,
		force:  true,
	})
	return entry, nil
}

// DeleteHistoryEntries removes the given indices. Either all indices are valid
// and all are removed, or nothing changes.
func (m *Manager) DeleteHistoryEntries(mode thermostat.Mode, indices ...int) error {
	mode = m.target(mode)
	if len(indices) == 0 {
		return nil
	}
	uniq := map[int]struct{}{}
	for _, i := range indices {
		if err := m.checkIndex(mode, i); err != nil {
			return err
		}
		uniq[i] = struct{}{}
	}
	sorted := make([]int, 0, len(uniq))
	for i := range uniq {
		sorted = append(sorted, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	h := m.history[mode]
	for _, i := range sorted {
		h = append(h[:i], h[i+1:]...)
	}
	m.history[mode] = h
	m.lg.Info("history entries deleted", "mode", mode.String(), "count", len(sorted))
	return nil
}

// RestoreFromState loads persisted history and then gains. History is restored
// first so that restoring gains equal to the last entry adds nothing.
// A history decode error is returned after the gains have been restored.
func (m *Manager) RestoreFromState(rs RestoredState) error {
	var histErr error
	if len(rs.History) > 0 {
		h, err := DecodeHistory(rs.History)
		if err != nil {
			histErr = err
			m.lg.Warn("discarding unreadable pid history", "err", err)
		} else {
			m.history = map[thermostat.Mode][]HistoryEntry{}
			for mode, entries := range h {
				if over := len(entries) - m.cfg.HistorySize; over > 0 {
					entries = entries[over:]
				}
				m.history[mode] = entries
			}
		}
	}
	if rs.Heating != nil {
		m.SetGains(ReasonRestore, WithGains(*rs.Heating), WithMode(thermostat.ModeHeat))
	}
	if rs.Cooling != nil {
		m.SetGains(ReasonRestore, WithGains(*rs.Cooling), WithMode(thermostat.ModeCool))
	}
	return histErr
}

// ResetToPhysics replaces learned gains with physics-derived ones. A nil
// cooling keeps the cooling gains untouched.
func (m *Manager) ResetToPhysics(heating Gains, cooling *Gains) {
	m.SetGains(ReasonPhysicsReset, WithGains(heating), WithMode(thermostat.ModeHeat))
	if cooling != nil {
		m.SetGains(ReasonPhysicsReset, WithGains(*cooling), WithMode(thermostat.ModeCool))
	}
}

// EncodeHistory serializes both mode histories in the current wire format.
func (m *Manager) EncodeHistory() ([]byte, error) {
	return EncodeHistory(m.history)
}
