package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.storefront/config.toml.
// Every field can be overridden from a STOREFRONT_* environment variable.
type Config struct {
	Worker  ConfigWorker  `toml:"worker"`
	Storage ConfigStorage `toml:"storage"`
	Push    ConfigPush    `toml:"push"`
	Log     ConfigLog     `toml:"log"`
}

// ConfigWorker holds the origin and listener settings.
type ConfigWorker struct {
	Origin          string `toml:"origin"           env:"STOREFRONT_ORIGIN"`
	Listen          string `toml:"listen"           env:"STOREFRONT_LISTEN"`
	APIKey          string `toml:"api_key"          env:"STOREFRONT_API_KEY"`
	OfflineDocument string `toml:"offline_document" env:"STOREFRONT_OFFLINE_DOCUMENT"`
	FlushInterval   string `toml:"flush_interval"   env:"STOREFRONT_FLUSH_INTERVAL"`
}

// ConfigStorage holds where partitions and pending actions live.
type ConfigStorage struct {
	Dir   string `toml:"dir"   env:"STOREFRONT_DATA_DIR"`
	Cache string `toml:"cache" env:"STOREFRONT_CACHE"` // "leveldb" or "memory"
}

// ConfigPush holds the push webhook secret.
type ConfigPush struct {
	Secret string `toml:"secret" env:"STOREFRONT_PUSH_SECRET"`
}

// ConfigLog holds logging settings.
type ConfigLog struct {
	Level  string `toml:"level"  env:"STOREFRONT_LOG_LEVEL"`
	Format string `toml:"format" env:"STOREFRONT_LOG_FORMAT"` // "text" or "json"
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.storefront, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".storefront")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// readConfigFile reads and parses the config file without environment
// overrides. If the file does not exist, it returns a zero-value Config.
func readConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*Config, error) {
	cfg, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "worker.origin").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. worker.origin)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "worker":
		switch field {
		case "origin":
			cfg.Worker.Origin = value
		case "listen":
			cfg.Worker.Listen = value
		case "api_key":
			cfg.Worker.APIKey = value
		case "offline_document":
			cfg.Worker.OfflineDocument = value
		case "flush_interval":
			cfg.Worker.FlushInterval = value
		default:
			return fmt.Errorf("unknown field %q in section [worker]", field)
		}
	case "storage":
		switch field {
		case "dir":
			cfg.Storage.Dir = value
		case "cache":
			if value != "leveldb" && value != "memory" {
				return fmt.Errorf("storage.cache must be leveldb or memory")
			}
			cfg.Storage.Cache = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	case "push":
		switch field {
		case "secret":
			cfg.Push.Secret = value
		default:
			return fmt.Errorf("unknown field %q in section [push]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "format":
			cfg.Log.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: worker, storage, push, log)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "storefront",
	Short: "Storefront offline worker",
	Long:  "Offline resource cache and background sync worker for the storefront.\nServe intercepted requests, queue offline mutations, and replay them.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
