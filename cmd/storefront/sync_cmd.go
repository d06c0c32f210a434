package main

import (
	"fmt"

	"github.com/spf13/cobra"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <sync-cart|sync-orders>",
	Short: "Replay pending actions now",
	Long:  "Run one replay cycle for a sync tag against the configured origin, outside of a running worker.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		wc, err := workerConfig(cfg)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		var clientOpts []storefront.ClientOption
		if cfg.Worker.APIKey != "" {
			clientOpts = append(clientOpts, storefront.WithAPIKey(cfg.Worker.APIKey))
		}
		queue := storefront.NewSyncQueue(wc, store, storefront.NewClient(wc.Origin, clientOpts...), nil, log, nil)

		report, err := queue.Run(cmd.Context(), args[0])
		fmt.Printf("Tag:       %s\n", report.Tag)
		fmt.Printf("Attempted: %d\n", report.Attempted)
		fmt.Printf("Replayed:  %d\n", report.Replayed)
		fmt.Printf("Remaining: %d\n", report.Remaining)
		if err != nil {
			return fmt.Errorf("sync incomplete: %w", err)
		}
		return nil
	},
}
