package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ledgermigrate/internal/bundlestore"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

func newBackupCmd(c *cli) *cobra.Command {
	var (
		collections []string
		name        string
		list        bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup bundle of one or more collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bundles := c.app.Bundles
			if bundles == nil {
				return fmt.Errorf("%w: no backup storage configured", core.ErrInvalidRequest)
			}

			if list {
				infos, err := bundles.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), infos)
			}

			bundle, err := c.service().Backup(ctx, collections)
			if err != nil {
				return err
			}
			data, err := core.MarshalBundle(bundle)
			if err != nil {
				return err
			}
			if name == "" {
				name = bundlestore.DefaultName(bundle.ExportedAt)
			}
			info, err := bundles.Save(ctx, name, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %d collections, %d records, %d bytes\n",
				info.Name, len(bundle.Collections), bundle.RecordCount(), info.Size)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&collections, "collections", nil, "Collections to include (default: all)")
	cmd.Flags().StringVar(&name, "name", "", "Bundle name (default: timestamped)")
	cmd.Flags().BoolVar(&list, "list", false, "List stored bundles instead of writing one")

	return cmd
}

func newRestoreCmd(c *cli) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "restore NAME",
		Short: "Restore a stored backup bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bundles := c.app.Bundles
			if bundles == nil {
				return fmt.Errorf("%w: no backup storage configured", core.ErrInvalidRequest)
			}

			data, err := bundles.Load(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := c.service().Restore(ctx, data, core.RestoreMode(mode))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(core.RestoreMerge), "Restore mode: merge or replace")

	return cmd
}
