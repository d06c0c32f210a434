package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <origin>",
	Short: "Store the storefront origin in ~/.storefront/config.toml",
	Long:  "Initialize the storefront CLI by storing the origin the worker fetches from, with default storage and logging settings.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		origin := args[0]
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("origin must be an absolute URL, got %q", origin)
		}

		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Worker.Origin = origin
		if cfg.Worker.Listen == "" {
			cfg.Worker.Listen = defaultListen
		}
		if cfg.Storage.Cache == "" {
			cfg.Storage.Cache = "leveldb"
		}
		if cfg.Log.Level == "" {
			cfg.Log.Level = "info"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Origin saved to %s\n", path)
		return nil
	},
}
