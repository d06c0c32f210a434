package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, queued actions and worker state",
	Long:  "Display the current configuration, count pending actions in the local store, and query a running worker for its lifecycle state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Origin:  %s\n", valueOrDefault(cfg.Worker.Origin, "(not set)"))
		fmt.Printf("  Listen:  %s\n", valueOrDefault(cfg.Worker.Listen, defaultListen))
		fmt.Printf("  Cache:   %s\n", valueOrDefault(cfg.Storage.Cache, "leveldb"))
		if cfg.Worker.APIKey != "" {
			fmt.Printf("  API Key: %s\n", maskKey(cfg.Worker.APIKey))
		} else {
			fmt.Println("  API Key: (not set)")
		}
		if cfg.Push.Secret != "" {
			fmt.Println("  Push:    enabled")
		} else {
			fmt.Println("  Push:    disabled")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Pending:")
		store, err := openStore(cfg)
		if err != nil {
			fmt.Printf("  Error opening store: %v\n", err)
		} else {
			defer store.Close()
			for _, key := range []string{storefront.PendingCartKey, storefront.PendingOrdersKey} {
				actions, err := storefront.LoadActions(ctx, store, key)
				if err != nil {
					fmt.Printf("  %-22s error: %v\n", key, err)
					continue
				}
				fmt.Printf("  %-22s %d\n", key, len(actions))
			}
		}

		fmt.Println()
		fmt.Println("Worker:")
		addr := valueOrDefault(cfg.Worker.Listen, defaultListen)
		if !strings.Contains(addr, "://") {
			addr = "http://" + addr
		}
		body, err := fetchStatus(ctx, addr+"/__worker/status")
		if err != nil {
			fmt.Printf("  Not reachable: %v\n", err)
			return nil
		}
		st := gjson.ParseBytes(body)
		fmt.Printf("  State:      %s\n", st.Get("state").String())
		fmt.Printf("  Online:     %t\n", st.Get("online").Bool())
		fmt.Printf("  Clients:    %d\n", st.Get("clients").Int())
		var parts []string
		for _, p := range st.Get("partitions").Array() {
			parts = append(parts, p.String())
		}
		fmt.Printf("  Partitions: %s\n", valueOrDefault(strings.Join(parts, ", "), "(none)"))
		var tags []string
		for _, t := range st.Get("registered").Array() {
			tags = append(tags, t.String())
		}
		fmt.Printf("  Registered: %s\n", valueOrDefault(strings.Join(tags, ", "), "(none)"))
		return nil
	},
}

func fetchStatus(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, gjson.GetBytes(body, "error").String())
	}
	return body, nil
}

// maskKey shows the first 4 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
