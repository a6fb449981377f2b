package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/adaptherm/cmd/app"
	httpctrl "github.com/Agrid-Dev/adaptherm/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/adaptherm/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/adaptherm/internal/controllers/mqtt"
	"github.com/Agrid-Dev/adaptherm/internal/device"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop and the enabled controllers",
		Long: `Run the zone control loop until interrupted.

Sensor readings arrive through the controllers (HTTP, MQTT, Modbus). With
--simulate the zone drives a simulated room built from the heat_loss section
instead, and feeds itself its readings every regulator interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			lg := newLogger(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(lg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, simulate, lg)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "drive a simulated room instead of a relay")
	return cmd
}

// runner is what every controller exposes.
type runner interface {
	Run(ctx context.Context) error
}

func run(ctx context.Context, cfg app.Config, simulate bool, lg *slog.Logger) error {
	var (
		actuator ports.Actuator
		room     *device.Room
	)
	if simulate {
		model, err := thermostat.NewHeatLossSimulator(cfg.HeatLossParams())
		if err != nil {
			return err
		}
		room = device.NewRoom(model, cfg.HeatLoss.InitialTemperature)
		actuator = room
	} else {
		actuator = device.NewRelay(lg)
	}

	d, store, err := openZone(ctx, cfg, actuator, lg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	controllers, err := buildControllers(cfg, d, lg)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	interval := cfg.Regulator.Interval
	if room != nil {
		g.Go(func() error { return simulateLoop(gCtx, room, d, interval, lg) })
	} else {
		g.Go(func() error { return d.Run(gCtx, interval) })
	}
	for _, c := range controllers {
		g.Go(func() error { return c.Run(gCtx) })
	}

	lg.Info("zone running",
		"zone", cfg.DeviceID,
		"interval", interval,
		"controllers", len(controllers),
		"simulate", simulate,
	)
	err = g.Wait()

	// Final save with a fresh context: ctx is already canceled.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := d.Save(saveCtx); serr != nil {
		lg.Error("final state save failed", "err", serr)
	}

	if errors.Is(err, context.Canceled) {
		lg.Info("shutdown complete")
		return nil
	}
	return err
}

func buildControllers(cfg app.Config, svc ports.ThermostatService, lg *slog.Logger) ([]runner, error) {
	var out []runner
	c := cfg.Controllers
	if c.HTTP.Enabled {
		out = append(out, httpctrl.New(svc, c.HTTP.Addr, lg))
	}
	if c.MQTT.Enabled {
		m, err := mqttctrl.New(svc, mqttctrl.Config{
			DeviceID:        cfg.DeviceID,
			BrokerURL:       c.MQTT.BrokerURL,
			ClientID:        c.MQTT.ClientID,
			BaseTopic:       c.MQTT.BaseTopic,
			QoS:             c.MQTT.QoS,
			RetainStatus:    c.MQTT.RetainStatus,
			PublishInterval: c.MQTT.PublishInterval,
			Username:        c.MQTT.Username,
			Password:        c.MQTT.Password,
		}, lg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if c.Modbus.Enabled {
		m, err := modbusctrl.New(svc, modbusctrl.Config{
			DeviceID: cfg.DeviceID,
			Addr:     c.Modbus.Addr,
			UnitID:   c.Modbus.UnitID,
		}, lg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// simulateLoop advances the room by one interval per tick, in real time.
func simulateLoop(ctx context.Context, room *device.Room, d *device.Device, interval time.Duration, lg *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := room.Step(ctx, d, interval); err != nil {
				lg.Warn("simulated tick failed", "err", err)
			}
		}
	}
}
