package gains

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// History is persisted in one of three layouts:
//
//	v1: a flat list of entries without ke, all heating
//	v2: an object keyed by "heating"/"cooling", ke and actor optional
//	v3: the v2 layout with every field present
//
// Decoding detects the layout and migrates it forward one version at a time.

type wireEntry struct {
	Timestamp string         `json:"timestamp"`
	Kp        float64        `json:"kp"`
	Ki        float64        `json:"ki"`
	Kd        float64        `json:"kd"`
	Ke        *float64       `json:"ke,omitempty"`
	Reason    string         `json:"reason"`
	Actor     string         `json:"actor,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

type historyRecord interface {
	version() int
}

type (
	historyV1 []wireEntry
	historyV2 map[string][]wireEntry
	historyV3 map[thermostat.Mode][]HistoryEntry
)

func (historyV1) version() int { return 1 }
func (historyV2) version() int { return 2 }
func (historyV3) version() int { return 3 }

func (h historyV1) migrate() historyV2 {
	return historyV2{"heating": append([]wireEntry(nil), h...)}
}

func (h historyV2) migrate() (historyV3, error) {
	out := historyV3{}
	for key, entries := range h {
		mode, err := thermostat.ParseMode(key)
		if err != nil || mode == thermostat.ModeOff {
			return nil, fmt.Errorf("%w: unknown mode key %q", ErrInvalidHistory, key)
		}
		list := make([]HistoryEntry, 0, len(entries))
		for i, w := range entries {
			e, err := w.toEntry()
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidHistory, key, i, err)
			}
			list = append(list, e)
		}
		out[mode] = list
	}
	return out, nil
}

func (w wireEntry) toEntry() (HistoryEntry, error) {
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return HistoryEntry{}, err
	}
	e := HistoryEntry{
		Timestamp: ts,
		Gains:     Gains{Kp: w.Kp, Ki: w.Ki, Kd: w.Kd},
		Reason:    Reason(w.Reason),
		Actor:     Actor(w.Actor),
	}
	if w.Ke != nil {
		e.Ke = *w.Ke
	}
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	for k, v := range w.Metrics {
		if f, ok := v.(float64); ok {
			if e.Metrics == nil {
				e.Metrics = map[string]float64{}
			}
			e.Metrics[k] = f
		}
	}
	return e, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and naive ISO 8601 timestamps; naive ones are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

func decodeHistoryRecord(raw []byte) (historyRecord, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return historyV3{}, nil
	case raw[0] == '[':
		var h historyV1
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHistory, err)
		}
		return h, nil
	case raw[0] == '{':
		var h historyV2
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHistory, err)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidHistory, raw[0])
	}
}

// DecodeHistory reads any supported layout and returns the per-mode histories.
func DecodeHistory(raw []byte) (map[thermostat.Mode][]HistoryEntry, error) {
	rec, err := decodeHistoryRecord(raw)
	if err != nil {
		return nil, err
	}
	for {
		switch h := rec.(type) {
		case historyV1:
			rec = h.migrate()
		case historyV2:
			v3, err := h.migrate()
			if err != nil {
				return nil, err
			}
			rec = v3
		case historyV3:
			return h, nil
		default:
			return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHistory, rec.version())
		}
	}
}

// EncodeHistory writes the current layout. Both mode keys are always present.
func EncodeHistory(h map[thermostat.Mode][]HistoryEntry) ([]byte, error) {
	out := map[string][]wireEntry{"heating": {}, "cooling": {}}
	for mode, entries := range h {
		key := mode.HistoryKey()
		for _, e := range entries {
			out[key] = append(out[key], e.wire())
		}
	}
	return json.Marshal(out)
}

func (e HistoryEntry) wire() wireEntry {
	ke := e.Ke
	w := wireEntry{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Kp:        e.Kp,
		Ki:        e.Ki,
		Kd:        e.Kd,
		Ke:        &ke,
		Reason:    string(e.Reason),
		Actor:     string(e.Actor),
	}
	if len(e.Metrics) > 0 {
		w.Metrics = make(map[string]any, len(e.Metrics))
		for k, v := range e.Metrics {
			w.Metrics[k] = v
		}
	}
	return w
}

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	entry, err := w.toEntry()
	if err != nil {
		return err
	}
	*e = entry
	return nil
}
