package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/device"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/pwm"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type SetpointCommand struct {
	Minute int
	Value  float64
}

// SimulateZone runs the adaptive zone against a simulated room for the given
// number of one-minute ticks and writes one CSV row per tick.
func SimulateZone(minutes int, filename string, setpointCommands []SetpointCommand) error {
	th, err := thermostat.New(thermostat.Snapshot{
		Mode:                   thermostat.ModeHeat,
		HeatingType:            thermostat.Radiator,
		TemperatureSetpoint:    20.0,
		TemperatureSetpointMin: 5.0,
		TemperatureSetpointMax: 30.0,
		ColdTolerance:          0.3,
		HotTolerance:           0.3,
	})
	if err != nil {
		return fmt.Errorf("failed to create thermostat: %w", err)
	}

	model, err := thermostat.NewHeatLossSimulator(thermostat.HeatLossSimulatorParams{
		Coefficient:        1e-5,
		HeaterPower:        5e-4,
		OutdoorTemperature: 5,
	})
	if err != nil {
		return fmt.Errorf("failed to create heat loss model: %w", err)
	}
	room := device.NewRoom(model, 17)
	clk := clock.NewManual(time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC))

	ctx := context.Background()
	d, err := device.New(ctx, "simulation", th, device.Config{
		Gains:      gains.Gains{Kp: 20, Ki: 0.005},
		OutputMin:  0,
		OutputMax:  100,
		PWM:        pwm.Config{Period: 15 * time.Minute, MinOpenTime: 2 * time.Minute, MinClosedTime: 2 * time.Minute},
		KeLearning: true,
		AutoApply:  true,
	}, device.Deps{
		Actuator: room,
		Clock:    clk,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return fmt.Errorf("failed to create zone: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"Minute", "Temperature", "Setpoint", "Output", "Heating",
		"Kp", "Ki", "Ke", "Learning", "Cycles",
	}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range minutes {
		for _, cmd := range setpointCommands {
			if cmd.Minute == i {
				if err := d.SetSetpoint(ctx, cmd.Value); err != nil {
					return fmt.Errorf("failed to update setpoint: %w", err)
				}
				break
			}
		}

		if err := room.Step(ctx, d, time.Minute); err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
		clk.Advance(time.Minute)

		s := d.Get()
		if err := writer.Write([]string{
			strconv.Itoa(i),
			fmt.Sprintf("%.2f", room.Temperature()),
			fmt.Sprintf("%.2f", s.TemperatureSetpoint),
			fmt.Sprintf("%.1f", s.ControlOutput),
			strconv.FormatBool(s.HeaterActive),
			fmt.Sprintf("%.4f", s.Gains.Kp),
			fmt.Sprintf("%.5f", s.Gains.Ki),
			fmt.Sprintf("%.3f", s.Gains.Ke),
			s.LearningStatus,
			strconv.Itoa(s.CycleCount),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	return nil
}

func main() {
	days := flag.Int("days", 3, "simulated days")
	out := flag.String("out", "adaptherm.csv", "CSV output file")
	flag.Parse()

	// A night setback every day: 21°C from 06:00, 18°C from 22:00.
	var commands []SetpointCommand
	for day := range *days {
		base := day * 24 * 60
		commands = append(commands,
			SetpointCommand{Minute: base, Value: 21},
			SetpointCommand{Minute: base + 16*60, Value: 18},
		)
	}
	if err := SimulateZone(*days*24*60, *out, commands); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
