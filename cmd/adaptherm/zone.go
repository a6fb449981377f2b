package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/adaptherm/cmd/app"
	"github.com/Agrid-Dev/adaptherm/internal/device"
)

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted zone state and learning progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(_ context.Context, _ app.Config, d *device.Device) error {
				return writeStatus(cmd.OutOrStdout(), o.format, d.Get())
			})
		},
	}
}

func newCyclesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List the recorded heating or cooling cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(_ context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				return writeCycles(cmd.OutOrStdout(), o.format, d.Cycles(mode))
			})
		},
	}
}
