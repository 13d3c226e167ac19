package usecase

import (
	"context"
	"fmt"
	"time"

	"puborch/internal/domain"
	"puborch/internal/ports"
)

// Notifier is the slice of the webhook notifier the use cases need.
type Notifier interface {
	Trigger(ctx context.Context, event domain.EventType, data map[string]any)
}

// Enqueuer inserts publishing work into the queue store.
type Enqueuer struct {
	Queue             ports.QueueStore
	Notifier          Notifier
	DefaultMaxRetries int
}

func (e Enqueuer) Enqueue(ctx context.Context, item *domain.QueueItem) (*domain.QueueItem, error) {
	if item.Platform == "" {
		return nil, fmt.Errorf("platform is required")
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = e.DefaultMaxRetries
	}
	if item.ScheduledFor.IsZero() {
		// Immediate publish: eligible on the next due sweep.
		item.ScheduledFor = time.Now()
	}

	if err := e.Queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}

	if e.Notifier != nil {
		e.Notifier.Trigger(ctx, domain.EventPostScheduled, map[string]any{
			"item_id":       item.ID.String(),
			"platform":      item.Platform,
			"priority":      item.Priority,
			"scheduled_for": item.ScheduledFor,
		})
	}
	return item, nil
}
