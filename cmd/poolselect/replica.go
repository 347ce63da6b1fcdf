package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolselect/pkg/config"
	"poolselect/pkg/replica"
	"poolselect/pkg/types"
)

func replicaCmd() *cobra.Command {
	var (
		dataDir string
		store   string
	)

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Inspect and repair replica state records",
	}
	cmd.PersistentFlags().StringVar(&dataDir, "dir", "", "pool data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&store, "store", "", "replica store: file or badger (overrides config)")

	open := func(logger *zap.Logger) (*replica.Repository, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if dataDir != "" {
			cfg.Replica.DataDir = dataDir
		}
		if store != "" {
			cfg.Replica.Store = store
		}
		if cfg.Replica.Store != config.StoreFile && cfg.Replica.Store != config.StoreBadger {
			return nil, fmt.Errorf("unknown replica store %q", cfg.Replica.Store)
		}
		return openRepository(context.Background(), cfg, logger, nil)
	}

	cmd.AddCommand(replicaShowCmd(open), replicaClearErrorCmd(open))
	return cmd
}

func parseIDs(args []string) ([]types.PnfsID, error) {
	ids := make([]types.PnfsID, 0, len(args))
	for _, arg := range args {
		id, err := types.ParsePnfsID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func replicaShowCmd(open func(*zap.Logger) (*replica.Repository, error)) *cobra.Command {
	var (
		serverAddr string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show [pnfsid...]",
		Short: "Show replica state, all replicas when no id is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			infos := []replica.Info{}
			if serverAddr != "" {
				if len(ids) == 0 {
					return fmt.Errorf("--server needs at least one pnfsid")
				}
				client, ctx, cancel, err := dialServer(serverAddr)
				if err != nil {
					return err
				}
				defer client.Close()
				defer cancel()

				for _, id := range ids {
					resp, err := client.ReplicaState(ctx, string(id))
					if err != nil {
						return fmt.Errorf("failed to query %s: %w", id, err)
					}
					infos = append(infos, resp.Replica)
				}
			} else {
				repo, err := open(logger)
				if err != nil {
					return err
				}
				defer repo.Close()

				listAll := len(ids) == 0
				if listAll {
					ids = repo.List()
				}
				for _, id := range ids {
					entry, err := repo.Get(id)
					if err != nil {
						return err
					}
					infos = append(infos, entry.Info())
				}
				if listAll && !jsonOutput {
					fmt.Println(renderReplicaList(infos, repo.Stats()))
					return nil
				}
			}

			if jsonOutput {
				return printJSON(infos)
			}
			for _, info := range infos {
				fmt.Println(renderReplica(info))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "query a running selection service")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	return cmd
}

func replicaClearErrorCmd(open func(*zap.Logger) (*replica.Repository, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-error <pnfsid>...",
		Short: "Clear ERROR and rewrite the control record",
		Long: `Take replicas out of ERROR and rewrite their control records from what
could be decoded. The pool must not be running.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			repo, err := open(logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, id := range ids {
				if err := repo.ClearError(id); err != nil {
					return err
				}
				entry, err := repo.Get(id)
				if err != nil {
					return err
				}
				fmt.Println(renderReplica(entry.Info()))
			}
			return nil
		},
	}
}
