package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table, json or yaml)", f)
	}
}

var (
	learnedColor  = color.New(color.FgGreen)           // auto/adaptive applies
	boostColor    = color.New(color.FgYellow)          // Ki boosts
	rollbackColor = color.New(color.FgRed, color.Bold) // rollbacks
	userColor     = color.New(color.FgCyan)            // manual edits and restores
	physicsColor  = color.New(color.FgHiBlack)         // physics baseline
)

// colorReason highlights a history reason for the table view.
func colorReason(r gains.Reason) string {
	s := string(r)
	switch r {
	case gains.ReasonAutoApply, gains.ReasonAdaptiveApply, gains.ReasonKeLearning:
		return learnedColor.Sprint(s)
	case gains.ReasonChronicApproach, gains.ReasonUndershoot:
		return boostColor.Sprint(s)
	case gains.ReasonRollback:
		return rollbackColor.Sprint(s)
	case gains.ReasonManual, gains.ReasonHistoryRestore:
		return userColor.Sprint(s)
	case gains.ReasonPhysicsInit, gains.ReasonPhysicsReset, gains.ReasonKePhysics:
		return physicsColor.Sprint(s)
	default:
		return s
	}
}

type historyRow struct {
	Index     int     `json:"index" yaml:"index"`
	Timestamp string  `json:"timestamp" yaml:"timestamp"`
	Kp        float64 `json:"kp" yaml:"kp"`
	Ki        float64 `json:"ki" yaml:"ki"`
	Kd        float64 `json:"kd" yaml:"kd"`
	Ke        float64 `json:"ke" yaml:"ke"`
	Reason    string  `json:"reason" yaml:"reason"`
	Actor     string  `json:"actor" yaml:"actor"`
}

type gainsRow struct {
	Mode string  `json:"mode" yaml:"mode"`
	Kp   float64 `json:"kp" yaml:"kp"`
	Ki   float64 `json:"ki" yaml:"ki"`
	Kd   float64 `json:"kd" yaml:"kd"`
	Ke   float64 `json:"ke" yaml:"ke"`
}

type cycleRow struct {
	EndedAt      string   `json:"ended_at" yaml:"ended_at"`
	Duration     string   `json:"duration" yaml:"duration"`
	RiseTime     string   `json:"rise_time,omitempty" yaml:"rise_time,omitempty"`
	SettlingTime string   `json:"settling_time,omitempty" yaml:"settling_time,omitempty"`
	Overshoot    *float64 `json:"overshoot,omitempty" yaml:"overshoot,omitempty"`
	Undershoot   *float64 `json:"undershoot,omitempty" yaml:"undershoot,omitempty"`
	Oscillations int      `json:"oscillations" yaml:"oscillations"`
}

func newGainsRow(mode string, g gains.Gains) gainsRow {
	return gainsRow{Mode: mode, Kp: g.Kp, Ki: g.Ki, Kd: g.Kd, Ke: g.Ke}
}

// writeStructured handles the json and yaml formats; it reports false for table.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func fmtGain(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

func fmtDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return d.Round(time.Second).String()
}

func fmtOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func writeHistory(w io.Writer, format string, entries []gains.HistoryEntry) error {
	rows := make([]historyRow, len(entries))
	for i, e := range entries {
		rows[i] = historyRow{
			Index:     i,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Kp:        e.Kp,
			Ki:        e.Ki,
			Kd:        e.Kd,
			Ke:        e.Ke,
			Reason:    string(e.Reason),
			Actor:     string(e.Actor),
		}
	}
	if ok, err := writeStructured(w, format, rows); ok {
		return err
	}

	data := make([][]string, len(entries))
	for i, e := range entries {
		r := rows[i]
		data[i] = []string{
			strconv.Itoa(r.Index), r.Timestamp,
			fmtGain(r.Kp), fmtGain(r.Ki), fmtGain(r.Kd), fmtGain(r.Ke),
			colorReason(e.Reason), r.Actor,
		}
	}
	if err := renderTable(w, []string{"#", "Timestamp", "Kp", "Ki", "Kd", "Ke", "Reason", "Actor"}, data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d entries, newest last\n", len(entries))
	return err
}

func writeGains(w io.Writer, format string, rows []gainsRow) error {
	if ok, err := writeStructured(w, format, rows); ok {
		return err
	}
	data := make([][]string, len(rows))
	for i, r := range rows {
		data[i] = []string{r.Mode, fmtGain(r.Kp), fmtGain(r.Ki), fmtGain(r.Kd), fmtGain(r.Ke)}
	}
	return renderTable(w, []string{"Mode", "Kp", "Ki", "Kd", "Ke"}, data)
}

func writeCycles(w io.Writer, format string, cycles []learning.CycleMetrics) error {
	rows := make([]cycleRow, len(cycles))
	for i, c := range cycles {
		d := c.Duration
		rows[i] = cycleRow{
			EndedAt:      c.EndedAt.UTC().Format(time.RFC3339),
			Duration:     fmtDuration(&d),
			RiseTime:     fmtDuration(c.RiseTime),
			SettlingTime: fmtDuration(c.SettlingTime),
			Overshoot:    c.Overshoot,
			Undershoot:   c.Undershoot,
			Oscillations: c.Oscillations,
		}
	}
	if ok, err := writeStructured(w, format, rows); ok {
		return err
	}
	data := make([][]string, len(rows))
	for i, r := range rows {
		rise := r.RiseTime
		if rise == "" {
			rise = color.New(color.FgRed).Sprint("never")
		}
		data[i] = []string{
			r.EndedAt, r.Duration, rise, r.SettlingTime,
			fmtOptional(r.Overshoot), fmtOptional(r.Undershoot), strconv.Itoa(r.Oscillations),
		}
	}
	if err := renderTable(w, []string{"Ended", "Duration", "Rise", "Settling", "Overshoot", "Undershoot", "Osc"}, data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d cycles, oldest first\n", len(rows))
	return err
}

func writeStatus(w io.Writer, format string, s ports.Status) error {
	if format == formatYAML {
		// Status only carries json tags; reuse them for the yaml keys.
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		_, err = writeStructured(w, format, m)
		return err
	}
	if ok, err := writeStructured(w, format, s); ok {
		return err
	}
	data := [][]string{
		{"zone", s.ID},
		{"mode", s.Mode.String()},
		{"heating type", s.HeatingType.String()},
		{"setpoint", strconv.FormatFloat(s.TemperatureSetpoint, 'f', 2, 64)},
		{"current", fmtOptional(s.CurrentTemperature)},
		{"outdoor", fmtOptional(s.OutdoorTemperature)},
		{"gains", fmt.Sprintf("kp=%s ki=%s kd=%s ke=%s", fmtGain(s.Gains.Kp), fmtGain(s.Gains.Ki), fmtGain(s.Gains.Kd), fmtGain(s.Gains.Ke))},
		{"learning", s.LearningStatus},
		{"confidence", strconv.FormatFloat(s.ConvergenceConfidence, 'f', 2, 64)},
		{"cycles", strconv.Itoa(s.CycleCount)},
		{"auto applies", strconv.Itoa(s.AutoApplyCount)},
		{"ki multiplier", strconv.FormatFloat(s.CumulativeKiMultiplier, 'f', 3, 64)},
		{"pid converged", strconv.FormatBool(s.PIDConverged)},
	}
	return renderTable(w, []string{"Field", "Value"}, data)
}
