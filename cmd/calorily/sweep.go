package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/calorily/internal/repository/sqlite"
)

func newSweepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sweep",
		GroupID: "admin",
		Short:   "Delete image files no meal refers to",
		Long: `Delete files in the image directory that no meal row references.

Files younger than --min-age are kept, so an insert that is copying its
photo right now is never disturbed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			minAge := a.cfg.Sync.SweepMinAge
			if cmd.Flags().Changed("min-age") {
				minAge, _ = cmd.Flags().GetDuration("min-age")
			}

			db, err := sqlite.New(sqlite.Config{Path: a.cfg.DBPath, ImageDir: a.cfg.ImageDir}, nil, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.SweepOrphans(cmd.Context(), minAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned image(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("min-age", 0, "only remove files older than this (default sync.sweep_min_age)")
	return cmd
}
