package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

var (
	enqueuePayload  string
	enqueueEndpoint string
)

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "{}", "JSON payload sent when the action is replayed")
	enqueueCmd.Flags().StringVar(&enqueueEndpoint, "endpoint", "", "Endpoint to replay against (defaults to the cart or orders endpoint)")
	rootCmd.AddCommand(enqueueCmd)
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <cart|order>",
	Short: "Queue an offline mutation",
	Long:  "Append a pending cart action or order to the local store. It is replayed by the worker when the matching sync tag fires.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind storefront.ActionKind
		switch args[0] {
		case "cart":
			kind = storefront.KindCartSync
		case "order":
			kind = storefront.KindOrderSync
		default:
			return fmt.Errorf("unknown action kind %q (valid: cart, order)", args[0])
		}
		if !json.Valid([]byte(enqueuePayload)) {
			return fmt.Errorf("--payload must be valid JSON")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		action, err := storefront.EnqueueAction(ctx, store, storefront.PendingAction{
			Kind:     kind,
			Endpoint: enqueueEndpoint,
			Payload:  json.RawMessage(enqueuePayload),
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}
		fmt.Printf("Queued %s %s\n", action.Kind, action.ID)
		return nil
	},
}
