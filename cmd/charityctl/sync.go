package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/indexer"
)

func syncCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the contract snapshot into the database once",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck
			ctx := cmd.Context()

			pool, store, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if migrate {
				if err := db.ApplyMigrations(ctx, pool, e.logger); err != nil {
					return err
				}
			}

			registry, err := chain.LoadRegistry()
			if err != nil {
				return err
			}
			network, err := registry.Lookup(e.cfg.Network, e.cfg.RPCURL)
			if err != nil {
				return err
			}
			reader, ec, err := chain.Dial(ctx, network, e.logger)
			if err != nil {
				return err
			}
			defer ec.Close()

			stats, err := indexer.NewPipeline(reader, store, indexer.NewMetrics(nil), e.logger).Sync(ctx)
			if err != nil {
				return err
			}
			e.logger.Info("sync finished", zap.Stringer("run_id", stats.RunID), zap.Duration("duration", stats.Duration))
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d requests, %d projects, %d activities\n",
				stats.Requests, stats.Projects, stats.Activities)
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before syncing")
	return cmd
}
