package learning

import (
	"io"
	"log/slog"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func failingCycle(d time.Duration) CycleMetrics {
	return CycleMetrics{Undershoot: ptr(0.5), Duration: d, StartTemperature: 19, TargetTemperature: 21}
}

func reachedCycle() CycleMetrics {
	return CycleMetrics{RiseTime: ptr(30 * time.Minute), Undershoot: ptr(0.0), Duration: 2 * time.Hour, StartTemperature: 19, TargetTemperature: 21}
}

func convergedCycle() CycleMetrics {
	return CycleMetrics{RiseTime: ptr(30 * time.Minute), Overshoot: ptr(0.1), Undershoot: ptr(0.0), Duration: time.Hour, StartTemperature: 20, TargetTemperature: 21}
}
