package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolselect/pkg/auth"
	"poolselect/pkg/config"
)

var version = "dev"

var (
	configFile string
	verbose    bool
	clientTLS  auth.TLSOptions
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "poolselect",
		Short: "dCache pool selection unit",
		Long: `Pool selection for dCache: maps a transfer request to the pools that may
serve it, grouped by preference, and tracks the state of replicas on a pool.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&clientTLS.CAFile, "tls-ca", "", "CA certificate for --server connections (enables TLS)")
	rootCmd.PersistentFlags().StringVar(&clientTLS.CertFile, "tls-cert", "", "client certificate for --server connections")
	rootCmd.PersistentFlags().StringVar(&clientTLS.KeyFile, "tls-key", "", "client key for --server connections")
	rootCmd.PersistentFlags().StringVar(&clientTLS.ServerName, "tls-server-name", "", "name to verify in the server certificate")

	rootCmd.AddCommand(
		serveCmd(),
		matchCmd(),
		dumpCmd(),
		replicaCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, then the default config file, then the
// environment
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		if p := config.DefaultConfigPath(); fileExists(p) {
			path = p
		}
	}

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ResolvePaths()
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("poolselect %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
