package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func newPruneCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries from the task index",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openIndex(cmd.Context(), cfg.IndexPath)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			slog.Info("index pruned", slog.Int64("removed", removed))
			return nil
		},
	}
}
