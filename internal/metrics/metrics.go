package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control loop gauges and counters, partitioned by zone.

var (
	// Loop
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "loop",
		Name:      "ticks_total",
		Help:      "Total control loop ticks",
	}, []string{"zone"})

	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "loop",
		Name:      "tick_errors_total",
		Help:      "Total control loop ticks that failed",
	}, []string{"zone"})

	TickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adaptherm",
		Subsystem: "loop",
		Name:      "tick_duration_seconds",
		Help:      "Control loop tick processing duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"zone"})

	// Temperatures
	Temperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "zone",
		Name:      "temperature_celsius",
		Help:      "Zone temperatures by kind (current, target, outdoor)",
	}, []string{"zone", "kind"})

	ControlOutput = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "pid",
		Name:      "output_percent",
		Help:      "PID control output",
	}, []string{"zone"})

	Gain = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "pid",
		Name:      "gain",
		Help:      "Active PID gains by term (kp, ki, kd, ke)",
	}, []string{"zone", "term"})

	GainChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "pid",
		Name:      "gain_changes_total",
		Help:      "Total gain changes by reason",
	}, []string{"zone", "reason"})

	// Actuation
	ActuatorCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "pwm",
		Name:      "commands_total",
		Help:      "Total actuator commands by kind (on, off)",
	}, []string{"zone", "command"})

	HeaterActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "pwm",
		Name:      "heater_active",
		Help:      "1 when the heater is on",
	}, []string{"zone"})

	// Learning
	CyclesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "learning",
		Name:      "cycles_completed_total",
		Help:      "Total heating cycles completed",
	}, []string{"zone", "mode"})

	ConvergenceConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "learning",
		Name:      "convergence_confidence",
		Help:      "Convergence confidence in [0, 1]",
	}, []string{"zone", "mode"})

	AutoApplyBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "learning",
		Name:      "auto_apply_blocked_total",
		Help:      "Total auto-apply attempts blocked by a safety gate",
	}, []string{"zone", "reason"})

	ThermalDebt = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adaptherm",
		Subsystem: "learning",
		Name:      "thermal_debt_degree_hours",
		Help:      "Accumulated thermal debt below target",
	}, []string{"zone"})

	// Persistence
	StateWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adaptherm",
		Subsystem: "state",
		Name:      "writes_total",
		Help:      "Total state document writes by result (ok, error)",
	}, []string{"zone", "result"})
)
