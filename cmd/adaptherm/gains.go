package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/adaptherm/cmd/app"
	"github.com/Agrid-Dev/adaptherm/internal/device"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

func newGainsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gains",
		Short: "Inspect and change the PID gains",
		Long: `Inspect and change the PID gains stored for the zone.

Every change is recorded in the gains history (see "adaptherm history").
These commands work on the state store directly; stop "adaptherm run" first
or use the HTTP API against a running zone.

Examples:
  adaptherm gains show
  adaptherm gains set --ki 0.012
  adaptherm gains apply-recommendation --mode cool
  adaptherm gains reset`,
	}
	cmd.AddCommand(
		newGainsShowCmd(o),
		newGainsSetCmd(o),
		newGainsResetCmd(o),
		newGainsRecommendCmd(o),
	)
	return cmd
}

// gainsRows lists every configured gains set, or only mode when --mode is given.
func (o *rootOptions) gainsRows(cfg app.Config, d *device.Device) ([]gainsRow, error) {
	if o.mode != "" {
		m, err := o.resolveMode(cfg)
		if err != nil {
			return nil, err
		}
		return []gainsRow{newGainsRow(m.String(), d.Gains(m))}, nil
	}
	rows := []gainsRow{newGainsRow(thermostat.ModeHeat.String(), d.Gains(thermostat.ModeHeat))}
	if cfg.Regulator.Cooling {
		rows = append(rows, newGainsRow(thermostat.ModeCool.String(), d.Gains(thermostat.ModeCool)))
	}
	return rows, nil
}

func newGainsShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active gains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(_ context.Context, cfg app.Config, d *device.Device) error {
				rows, err := o.gainsRows(cfg, d)
				if err != nil {
					return err
				}
				return writeGains(cmd.OutOrStdout(), o.format, rows)
			})
		},
	}
}

func newGainsSetCmd(o *rootOptions) *cobra.Command {
	var kp, ki, kd, ke float64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set one or more gains; the others keep their value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u gains.Update
			f := cmd.Flags()
			if f.Changed("kp") {
				u.Kp = &kp
			}
			if f.Changed("ki") {
				u.Ki = &ki
			}
			if f.Changed("kd") {
				u.Kd = &kd
			}
			if f.Changed("ke") {
				u.Ke = &ke
			}
			if u == (gains.Update{}) {
				return errors.New("nothing to set: pass at least one of --kp, --ki, --kd, --ke")
			}
			return o.withZone(cmd, func(ctx context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				applied, err := d.SetGains(ctx, mode, u)
				if err != nil {
					return err
				}
				return writeGains(cmd.OutOrStdout(), o.format, []gainsRow{newGainsRow(mode.String(), applied)})
			})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&kp, "kp", 0, "proportional gain")
	f.Float64Var(&ki, "ki", 0, "integral gain")
	f.Float64Var(&kd, "kd", 0, "derivative gain")
	f.Float64Var(&ke, "ke", 0, "outdoor compensation gain")
	return cmd
}

func newGainsResetCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Go back to the configured physics gains and clear learned boosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(ctx context.Context, cfg app.Config, d *device.Device) error {
				if err := d.ResetToPhysics(ctx); err != nil {
					return err
				}
				rows, err := o.gainsRows(cfg, d)
				if err != nil {
					return err
				}
				return writeGains(cmd.OutOrStdout(), o.format, rows)
			})
		},
	}
}

func newGainsRecommendCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-recommendation",
		Short: "Apply the gains recommended from the recorded cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(ctx context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				g, ok, err := d.ApplyRecommendation(ctx, mode)
				if err != nil {
					return err
				}
				if !ok {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "no recommendation yet for %s: %d cycles recorded\n",
						mode, len(d.Cycles(mode)))
					return err
				}
				return writeGains(cmd.OutOrStdout(), o.format, []gainsRow{newGainsRow(mode.String(), g)})
			})
		},
	}
}
