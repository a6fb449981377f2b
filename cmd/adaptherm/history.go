package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/adaptherm/cmd/app"
	"github.com/Agrid-Dev/adaptherm/internal/device"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, restore or prune the gains history",
		Long: `List, restore or prune the gains history of the zone.

Entries are indexed from 0, oldest first. Restoring an entry applies its gains
and records a new "history_restore" entry.

Examples:
  adaptherm history list --format yaml
  adaptherm history restore --index 2
  adaptherm history delete --index 0 --index 1`,
	}
	cmd.AddCommand(
		newHistoryListCmd(o),
		newHistoryRestoreCmd(o),
		newHistoryDeleteCmd(o),
	)
	return cmd
}

func newHistoryListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the gains history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(_ context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				return writeHistory(cmd.OutOrStdout(), o.format, d.History(mode))
			})
		},
	}
}

func newHistoryRestoreCmd(o *rootOptions) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Apply the gains of one history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withZone(cmd, func(ctx context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				e, err := d.RestoreHistory(ctx, mode, index)
				if err != nil {
					return fmt.Errorf("restore entry %d: %w", index, err)
				}
				return writeGains(cmd.OutOrStdout(), o.format, []gainsRow{newGainsRow(mode.String(), e.Gains)})
			})
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", 0, "history entry to restore")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func newHistoryDeleteCmd(o *rootOptions) *cobra.Command {
	var indices []int
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete history entries; the active gains are left alone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(indices) == 0 {
				return errors.New("pass at least one --index")
			}
			return o.withZone(cmd, func(ctx context.Context, cfg app.Config, d *device.Device) error {
				mode, err := o.resolveMode(cfg)
				if err != nil {
					return err
				}
				if err := d.DeleteHistory(ctx, mode, indices...); err != nil {
					return err
				}
				return writeHistory(cmd.OutOrStdout(), o.format, d.History(mode))
			})
		},
	}
	cmd.Flags().IntSliceVarP(&indices, "index", "i", nil, "history entries to delete (repeatable)")
	return cmd
}
