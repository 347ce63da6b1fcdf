package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"poolselect/pkg/auth"
	"poolselect/pkg/config"
	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
	"poolselect/pkg/server"
	"poolselect/pkg/setup"
)

const stickyExpiryInterval = time.Minute

func serveCmd() *cobra.Command {
	var (
		address   string
		setupFile string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the selection service",
		Long: `Load the setup file, optionally the replica repository, and serve pool
selection over gRPC. Metrics are exposed over HTTP at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("setup") {
				cfg.Setup.File = setupFile
			}
			if cmd.Flags().Changed("watch") {
				cfg.Setup.Watch = watch
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "gRPC listen address")
	cmd.Flags().StringVar(&setupFile, "setup", "", "setup file with psu commands")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the setup file when it changes")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := selection.NewEngine(logger.Named("selection"), selection.NewMetrics(registry))
	overrides := setup.Overrides{AllPoolsActive: cfg.Setup.AllPoolsActive}

	if cfg.Setup.File != "" {
		n, err := overrides.Load(cfg.Setup.File, engine)
		if err != nil {
			return err
		}
		logger.Info("Loaded setup",
			zap.String("path", cfg.Setup.File),
			zap.Int("commands", n),
			zap.Uint64("generation", engine.Generation()))
	} else {
		logger.Warn("No setup file configured, starting with an empty configuration")
		if cfg.Setup.AllPoolsActive != nil {
			engine.SetAllPoolsActive(*cfg.Setup.AllPoolsActive)
		}
	}

	var repo *replica.Repository
	if cfg.Replica.Enabled {
		var err error
		repo, err = openRepository(ctx, cfg, logger, replica.NewMetrics(registry))
		if err != nil {
			return err
		}
		defer repo.Close()
	}

	opts := server.Options{Replicas: repo, Logger: logger.Named("server")}
	if tlsOpts := cfg.Server.TLS.Options(); tlsOpts.Enabled() {
		creds, err := auth.ServerCredentials(tlsOpts)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		opts.ServerOptions = append(opts.ServerOptions, grpc.Creds(creds))
		logger.Info("TLS enabled",
			zap.Bool("require_client_cert", tlsOpts.RequireClientCert),
			zap.String("min_version", tlsOpts.MinVersion))
	}
	srv := server.New(engine, opts)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(cfg.Server.Address); err != nil {
			return fmt.Errorf("selection server failed: %w", err)
		}
		return nil
	})

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", zap.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.Setup.Watch {
		watcher, err := setup.NewWatcher(cfg.Setup.File, engine, logger.Named("setup"), setup.WatcherOptions{
			Debounce:  cfg.Setup.DebounceDuration(),
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
		g.Go(func() error {
			watcher.Run(ctx)
			return nil
		})
	}

	if repo != nil {
		g.Go(func() error {
			ticker := time.NewTicker(stickyExpiryInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := repo.ExpireSticky(); n > 0 {
						logger.Debug("Expired sticky records", zap.Int("replicas", n))
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down selection service")
		srv.Stop()
		return nil
	})

	return g.Wait()
}

// openStore opens the replica store configured in cfg
func openStore(cfg *config.Config, logger *zap.Logger) (replica.StateStore, error) {
	switch cfg.Replica.Store {
	case config.StoreBadger:
		return replica.OpenBadgerStore(replica.BadgerOptions{
			Path:             filepath.Join(cfg.Replica.DataDir, "meta"),
			SyncWrites:       cfg.Replica.SyncWrites,
			Logger:           logger,
			ValueLogFileSize: cfg.Replica.ValueLogBytes(),
		})
	default:
		return replica.NewFileStore(cfg.Replica.DataDir)
	}
}

// openRepository opens the store and loads every replica record
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *replica.Metrics) (*replica.Repository, error) {
	if cfg.Replica.DataDir == "" {
		return nil, errors.New("replica data directory is not configured")
	}
	store, err := openStore(cfg, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open replica store: %w", err)
	}

	repo := replica.NewRepository(store, replica.Options{Logger: logger.Named("replica"), Metrics: metrics})
	start := time.Now()
	if err := repo.Load(ctx, cfg.Replica.LoadConcurrency); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to load replicas: %w", err)
	}
	logger.Info("Replica repository ready",
		zap.String("store", cfg.Replica.Store),
		zap.String("data_dir", cfg.Replica.DataDir),
		zap.Int("replicas", repo.Stats().Total),
		zap.Duration("took", time.Since(start)))
	return repo, nil
}
