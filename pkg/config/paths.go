package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetConfigDir returns the poolselect configuration directory
func GetConfigDir() string {
	if dir := os.Getenv("POOLSELECT_CONFIG_DIR"); dir != "" {
		return expandPath(dir)
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "poolselect")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".poolselect"
	}
	return filepath.Join(home, ".poolselect")
}

// DefaultConfigPath returns the first existing config file in the config
// directory, preferring YAML, or the YAML path if none exists
func DefaultConfigPath() string {
	dir := GetConfigDir()
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.yaml")
}

// ResolvePaths expands ~ and environment variables in file system paths
func (c *Config) ResolvePaths() {
	c.Setup.File = expandPath(c.Setup.File)
	c.Replica.DataDir = expandPath(c.Replica.DataDir)
	c.Server.TLS.CertFile = expandPath(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = expandPath(c.Server.TLS.KeyFile)
	c.Server.TLS.CAFile = expandPath(c.Server.TLS.CAFile)
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}
