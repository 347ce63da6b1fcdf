package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"poolselect/pkg/auth"
	"poolselect/pkg/utils"
)

// Replica store backends
const (
	StoreFile   = "file"
	StoreBadger = "badger"
)

// Config is the top level service configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Setup   SetupConfig   `json:"setup" yaml:"setup"`
	Replica ReplicaConfig `json:"replica" yaml:"replica"`
}

// ServerConfig holds the listen addresses and TLS material
type ServerConfig struct {
	Address        string    `json:"address" yaml:"address" validate:"required,hostname_port"`
	MetricsAddress string    `json:"metrics_address" yaml:"metrics_address" validate:"omitempty,hostname_port"`
	TLS            TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig enables TLS on the selection service when a certificate is set
type TLSConfig struct {
	CertFile          string `json:"cert_file" yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile           string `json:"key_file" yaml:"key_file" validate:"required_with=CertFile"`
	CAFile            string `json:"ca_file" yaml:"ca_file" validate:"required_if=RequireClientCert true"`
	RequireClientCert bool   `json:"require_client_cert" yaml:"require_client_cert"`
	MinVersion        string `json:"min_version" yaml:"min_version" validate:"omitempty,oneof=1.2 1.3"`
}

// SetupConfig names the setup file and how it is reloaded
type SetupConfig struct {
	File     string `json:"file" yaml:"file" validate:"required_if=Watch true"`
	Watch    bool   `json:"watch" yaml:"watch"`
	Debounce string `json:"debounce" yaml:"debounce" validate:"omitempty,duration"`

	// AllPoolsActive, when set, overrides the setting in the setup file
	AllPoolsActive *bool `json:"all_pools_active,omitempty" yaml:"all_pools_active,omitempty"`
}

// ReplicaConfig enables the replica repository and picks its store
type ReplicaConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Store           string `json:"store" yaml:"store" validate:"omitempty,oneof=file badger"`
	DataDir         string `json:"data_dir" yaml:"data_dir" validate:"required_if=Enabled true"`
	LoadConcurrency int    `json:"load_concurrency" yaml:"load_concurrency" validate:"gte=0,lte=1024"`
	SyncWrites      bool   `json:"sync_writes" yaml:"sync_writes"`
	ValueLogSize    string `json:"value_log_size" yaml:"value_log_size" validate:"omitempty,datasize"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	_ = validate.RegisterValidation("datasize", func(fl validator.FieldLevel) bool {
		_, err := utils.ParseDataSize(fl.Field().String())
		return err == nil
	})
}

// Default returns the configuration used for unset fields
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":2288",
			MetricsAddress: ":9288",
		},
		Setup: SetupConfig{
			Debounce: "250ms",
		},
		Replica: ReplicaConfig{
			Store:           StoreFile,
			LoadConcurrency: 8,
			SyncWrites:      true,
		},
	}
}

// LoadConfig reads a JSON or YAML file, chosen by extension, on top of the
// defaults and validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a configuration from POOLSELECT_* variables
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.Server.Address = getEnv("POOLSELECT_ADDRESS", cfg.Server.Address)
	cfg.Server.MetricsAddress = getEnv("POOLSELECT_METRICS_ADDRESS", cfg.Server.MetricsAddress)
	cfg.Setup.File = getEnv("POOLSELECT_SETUP_FILE", "")
	cfg.Setup.Debounce = getEnv("POOLSELECT_SETUP_DEBOUNCE", cfg.Setup.Debounce)
	cfg.Replica.Store = getEnv("POOLSELECT_REPLICA_STORE", cfg.Replica.Store)
	cfg.Replica.DataDir = getEnv("POOLSELECT_REPLICA_DIR", "")
	cfg.Replica.ValueLogSize = getEnv("POOLSELECT_REPLICA_VALUE_LOG_SIZE", "")
	cfg.Server.TLS.CertFile = getEnv("POOLSELECT_TLS_CERT", "")
	cfg.Server.TLS.KeyFile = getEnv("POOLSELECT_TLS_KEY", "")
	cfg.Server.TLS.CAFile = getEnv("POOLSELECT_TLS_CA", "")

	var err error
	if cfg.Setup.Watch, err = getEnvBool("POOLSELECT_WATCH_SETUP", false); err != nil {
		return nil, err
	}
	if cfg.Replica.Enabled, err = getEnvBool("POOLSELECT_REPLICA_ENABLED", cfg.Replica.DataDir != ""); err != nil {
		return nil, err
	}
	if cfg.Replica.SyncWrites, err = getEnvBool("POOLSELECT_REPLICA_SYNC_WRITES", cfg.Replica.SyncWrites); err != nil {
		return nil, err
	}
	if cfg.Server.TLS.RequireClientCert, err = getEnvBool("POOLSELECT_TLS_REQUIRE_CLIENT_CERT", false); err != nil {
		return nil, err
	}
	if v := os.Getenv("POOLSELECT_ALL_POOLS_ACTIVE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POOLSELECT_ALL_POOLS_ACTIVE: %w", err)
		}
		cfg.Setup.AllPoolsActive = &on
	}
	if v := os.Getenv("POOLSELECT_LOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POOLSELECT_LOAD_CONCURRENCY: %w", err)
		}
		cfg.Replica.LoadConcurrency = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Options converts the TLS settings for the auth package
func (c TLSConfig) Options() auth.TLSOptions {
	return auth.TLSOptions{
		CertFile:          c.CertFile,
		KeyFile:           c.KeyFile,
		CAFile:            c.CAFile,
		RequireClientCert: c.RequireClientCert,
		MinVersion:        c.MinVersion,
	}
}

// DebounceDuration returns the setup watcher debounce, zero if unset
func (c *SetupConfig) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Debounce)
	return d
}

// ValueLogBytes returns the badger value log file size, zero for the default
func (c *ReplicaConfig) ValueLogBytes() int64 {
	return utils.ParseDataSizeWithDefault(c.ValueLogSize, 0)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
