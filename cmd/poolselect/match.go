package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"poolselect/pkg/auth"
	"poolselect/pkg/selection"
	"poolselect/pkg/server"
	"poolselect/pkg/setup"
)

const rpcTimeout = 10 * time.Second

// localEngine loads setupFile, or the configured setup file, into a fresh
// engine
func localEngine(setupFile string, logger *zap.Logger) (*selection.Engine, error) {
	if setupFile == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		setupFile = cfg.Setup.File
	}
	if setupFile == "" {
		return nil, errors.New("no setup file given, use --setup or --server")
	}

	engine := selection.NewEngine(logger, nil)
	if _, err := setup.Load(setupFile, engine); err != nil {
		return nil, err
	}
	return engine, nil
}

func dialServer(address string) (*server.Client, context.Context, context.CancelFunc, error) {
	var opts []grpc.DialOption
	if clientTLS.Enabled() {
		creds, err := auth.ClientCredentials(clientTLS)
		if err != nil {
			return nil, nil, nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	client, err := server.Dial(address, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	return client, ctx, cancel, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func matchCmd() *cobra.Command {
	var (
		serverAddr string
		setupFile  string
		req        server.MatchRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "match <read|write|cache|p2p|any>",
		Short: "Show the pools selected for a request",
		Long: `Evaluate a pool selection request against a setup file, or against a
running service with --server, and print the preference levels.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			req.Operation = args[0]

			var levels []selection.PreferenceLevel
			if serverAddr != "" {
				client, ctx, cancel, err := dialServer(serverAddr)
				if err != nil {
					return err
				}
				defer client.Close()
				defer cancel()

				resp, err := client.Match(ctx, &req)
				if err != nil {
					return fmt.Errorf("match failed: %w", err)
				}
				levels = resp.Levels
			} else {
				engine, err := localEngine(setupFile, logger)
				if err != nil {
					return err
				}
				r, err := req.Request()
				if err != nil {
					return err
				}
				if levels, err = engine.Match(r); err != nil {
					return fmt.Errorf("match failed: %w", err)
				}
			}

			if jsonOutput {
				if levels == nil {
					levels = []selection.PreferenceLevel{}
				}
				return printJSON(levels)
			}
			fmt.Println(renderLevels(levels))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "address of a running selection service")
	cmd.Flags().StringVar(&setupFile, "setup", "", "setup file to evaluate locally")
	cmd.Flags().StringVar(&req.StoreUnit, "store", "", "storage class, e.g. h1:u1@osm")
	cmd.Flags().StringVar(&req.DCacheUnit, "dcache", "", "cache class")
	cmd.Flags().StringVar(&req.HSM, "hsm", "", "HSM instance, defaults to the storage class instance")
	cmd.Flags().StringVar(&req.ClientAddress, "client", "", "client IP address")
	cmd.Flags().StringVar(&req.Protocol, "protocol", "", "protocol as name/major, e.g. DCap/3")
	cmd.Flags().StringVar(&req.LinkGroup, "linkgroup", "", "restrict to a link group, \"none\" for links outside any group")
	cmd.Flags().StringVar(&req.RetentionPolicy, "rp", "", "retention policy: CUSTODIAL, OUTPUT or REPLICA")
	cmd.Flags().StringVar(&req.AccessLatency, "al", "", "access latency: ONLINE or NEARLINE")
	cmd.Flags().StringSliceVar(&req.Exclude, "exclude", nil, "pools to leave out")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")

	return cmd
}

func dumpCmd() *cobra.Command {
	var (
		serverAddr string
		setupFile  string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the configuration as a psu command script",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			var engine *selection.Engine
			if serverAddr != "" {
				client, ctx, cancel, err := dialServer(serverAddr)
				if err != nil {
					return err
				}
				defer client.Close()
				defer cancel()

				resp, err := client.DumpSetup(ctx)
				if err != nil {
					return fmt.Errorf("dump failed: %w", err)
				}
				if output == "" {
					fmt.Print(resp.Setup)
					return nil
				}
				engine = selection.NewEngine(logger, nil)
				if _, err := setup.LoadReader(strings.NewReader(resp.Setup), engine); err != nil {
					return fmt.Errorf("service returned an unloadable setup: %w", err)
				}
			} else {
				var err error
				if engine, err = localEngine(setupFile, logger); err != nil {
					return err
				}
			}

			if output != "" {
				if err := setup.Save(output, engine); err != nil {
					return err
				}
				logger.Info("Saved setup", zap.String("path", output))
				return nil
			}
			fmt.Print(engine.DumpSetup())
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "address of a running selection service")
	cmd.Flags().StringVar(&setupFile, "setup", "", "setup file to normalize")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}
