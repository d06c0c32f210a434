package main

import (
	"fmt"

	"github.com/spf13/cobra"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePruneCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect cache partitions",
	Long:  "List or prune the cache partitions on disk. The worker must not be running, since it holds the cache lock.",
}

var cacheListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List partitions and their entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		storage, err := openCacheStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx := cmd.Context()
		names, err := storage.Names(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No partitions.")
			return nil
		}
		for _, name := range names {
			part, err := storage.Open(ctx, name)
			if err != nil {
				return err
			}
			keys, err := part.Keys(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d)\n", name, len(keys))
			for _, k := range keys {
				fmt.Printf("  %s\n", k)
			}
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete partitions outside the recognized set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		wc, err := workerConfig(cfg)
		if err != nil {
			return err
		}
		storage, err := openCacheStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		removed, err := storefront.NewPartitions(storage, wc).Prune(cmd.Context())
		for _, name := range removed {
			fmt.Printf("Deleted %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to prune.")
		}
		return nil
	},
}
