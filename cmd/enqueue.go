package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"puborch/internal/config"
	"puborch/internal/domain"
	"puborch/internal/infra/postgres"
	"puborch/internal/usecase"
)

func enqueueCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "enqueue <item(json)>",
		Short: "Add a publish item to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var item domain.QueueItem
			if err := json.Unmarshal([]byte(args[0]), &item); err != nil {
				return fmt.Errorf("invalid item JSON: %w", err)
			}

			cfg := config.Load()
			db, err := postgres.Open(cfg.Database)
			if err != nil {
				return err
			}

			enq := usecase.Enqueuer{
				Queue:             postgres.NewQueueStore(db),
				DefaultMaxRetries: cfg.Publisher.MaxRetries,
			}
			created, err := enq.Enqueue(context.Background(), &item)
			if err != nil {
				return fmt.Errorf("failed to enqueue item: %w", err)
			}

			fmt.Printf("Item enqueued: %s\n", created.ID)
			return nil
		},
	}
	return command
}
