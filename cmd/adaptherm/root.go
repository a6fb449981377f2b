package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/adaptherm/cmd/app"
	"github.com/Agrid-Dev/adaptherm/internal/device"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/state"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// All linker flags will be set at build time.
var version = "dev"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	format     string
	mode       string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "adaptherm",
		Short: "Adaptive PID thermostat for a single heating/cooling zone.",
		Long: `adaptherm regulates one zone with a PID loop driving an on/off emitter through
time-proportional (PWM) switching. It learns from completed heating cycles:
recommending and auto-applying gains, boosting Ki when the room chronically
stalls below target, and fitting the outdoor compensation gain (Ke).

The run command starts the loop and its HTTP/MQTT/Modbus controllers. The
gains, history, cycles and status commands work offline against the state store.`,
		Version:            version,
		SilenceErrors:      true,
		SilenceUsage:       true,
		DisableSuggestions: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return validFormat(o.format)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "config.yaml", "path to config file (.yaml/.yml/.json)")
	pf.StringVarP(&o.format, "format", "f", formatTable, "output format: table, json or yaml")
	pf.StringVarP(&o.mode, "mode", "m", "", "gains set to act on: heat or cool (default: configured mode)")

	cmd.AddCommand(
		newRunCmd(o),
		newStatusCmd(o),
		newGainsCmd(o),
		newHistoryCmd(o),
		newCyclesCmd(o),
	)
	return cmd
}

func (o *rootOptions) load() (app.Config, error) {
	cfg, err := app.LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// resolveMode picks the gains set a command acts on: the --mode flag, else the
// configured mode, with off falling back to heating.
func (o *rootOptions) resolveMode(cfg app.Config) (thermostat.Mode, error) {
	explicit := o.mode != ""
	s := o.mode
	if !explicit {
		s = cfg.Thermostat.Mode
	}
	m, err := thermostat.ParseMode(s)
	if err != nil {
		return m, err
	}
	switch {
	case m == thermostat.ModeCool && cfg.Regulator.Cooling:
		return m, nil
	case m == thermostat.ModeCool && explicit:
		return m, fmt.Errorf("cooling is not configured for zone %q", cfg.DeviceID)
	case m == thermostat.ModeOff && explicit:
		return m, fmt.Errorf("%w: off has no gains", thermostat.ErrInvalidMode)
	default:
		return thermostat.ModeHeat, nil
	}
}

func newLogger(cfg app.LogConfig, w io.Writer) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openZone builds the zone from cfg and restores it from the configured store.
// The caller closes the store.
func openZone(ctx context.Context, cfg app.Config, actuator ports.Actuator, lg *slog.Logger) (*device.Device, state.Store, error) {
	snap, err := cfg.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	th, err := thermostat.New(snap)
	if err != nil {
		return nil, nil, err
	}
	store, err := state.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	d, err := device.New(ctx, cfg.DeviceID, th, cfg.DeviceConfig(), device.Deps{
		Actuator: actuator,
		Store:    store,
		Logger:   lg,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return d, store, nil
}

// withZone runs fn against an offline zone: no loop, no controllers.
func (o *rootOptions) withZone(cmd *cobra.Command, fn func(ctx context.Context, cfg app.Config, d *device.Device) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	lg := newLogger(app.LogConfig{Level: "warn", Format: cfg.Log.Format}, cmd.ErrOrStderr())
	d, store, err := openZone(cmd.Context(), cfg, device.NewRelay(lg), lg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(cmd.Context(), cfg, d)
}
