package main

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

var configShowFile bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowFile, "file", false, "Print the config file as stored, without env overrides or defaults")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage storefront configuration",
	Long:  "View or modify the storefront CLI configuration stored in ~/.storefront/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print the configuration the worker would run with: the config file, then STOREFRONT_* overrides,\n" +
		"then built-in defaults. Secrets are masked. Use --file to print the stored file instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowFile {
			return printConfigFile()
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		data, err := toml.Marshal(effectiveConfig(cfg))
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func printConfigFile() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'storefront init <origin>' to create one.")
			return nil
		}
		return fmt.Errorf("cannot read config file: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// effectiveConfig fills unset fields with the values serve would use and
// masks secrets.
func effectiveConfig(cfg *Config) Config {
	out := *cfg
	out.Worker.Listen = valueOrDefault(out.Worker.Listen, defaultListen)
	out.Worker.OfflineDocument = valueOrDefault(out.Worker.OfflineDocument, storefront.DefaultOfflineDocument)
	out.Worker.FlushInterval = valueOrDefault(out.Worker.FlushInterval, storefront.DefaultFlushInterval.String())
	if out.Worker.APIKey != "" {
		out.Worker.APIKey = maskKey(out.Worker.APIKey)
	}
	out.Storage.Cache = valueOrDefault(out.Storage.Cache, "leveldb")
	if out.Push.Secret != "" {
		out.Push.Secret = maskKey(out.Push.Secret)
	}
	out.Log.Level = valueOrDefault(out.Log.Level, "info")
	out.Log.Format = valueOrDefault(out.Log.Format, "text")
	return out
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: storefront config set worker.origin https://shop.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// environment overrides are not persisted
		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
