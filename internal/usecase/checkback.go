package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"puborch/internal/domain"
	"puborch/internal/platform"
	"puborch/internal/ports"
)

// CheckbackScheduler creates the post-publish metric snapshots and collects
// the due ones. A single missed collection is acceptable; later offsets
// still fire.
type CheckbackScheduler struct {
	Store    ports.CheckbackStore
	Queue    ports.QueueStore
	Adapters *platform.Registry
	Notifier Notifier

	Offsets        []int
	AdapterTimeout time.Duration
}

// Schedule upserts one pending checkback per offset from published_at.
// Idempotent: calling it twice for the same item creates nothing new.
func (c *CheckbackScheduler) Schedule(ctx context.Context, itemID uuid.UUID, publishedAt time.Time) error {
	offsets := c.Offsets
	if len(offsets) == 0 {
		offsets = domain.DefaultCheckbackOffsets
	}
	return c.Store.Schedule(ctx, itemID, publishedAt, offsets)
}

// SweepDue collects every due pending checkback. Fetch failures mark that
// single checkback failed without touching the item or its siblings.
// Returns the count claimed.
func (c *CheckbackScheduler) SweepDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := c.Store.ClaimDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	for _, cb := range due {
		c.collect(ctx, cb)
	}
	return len(due), nil
}

func (c *CheckbackScheduler) collect(ctx context.Context, cb domain.Checkback) {
	item, err := c.Queue.Get(ctx, cb.QueueItemID)
	if err != nil {
		c.failCheckback(ctx, cb, nil, "owning item not found: "+err.Error())
		return
	}

	adapter, ok := c.Adapters.Get(item.Platform)
	if !ok {
		c.failCheckback(ctx, cb, item, "no adapter registered for "+item.Platform)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.AdapterTimeout)
	defer cancel()

	snapshot, err := adapter.FetchMetrics(callCtx, item.PlatformPostID)
	if err != nil {
		c.failCheckback(ctx, cb, item, err.Error())
		return
	}

	// Previous snapshot first, so milestone detection compares against the
	// state before this collection.
	var prevViews int64
	if prev, perr := c.Store.LatestCollected(ctx, cb.QueueItemID); perr != nil {
		log.Error().Err(perr).Str("item", cb.QueueItemID.String()).Msg("failed to load previous snapshot")
	} else if prev != nil {
		prevViews = prev.Views
	}

	collectedAt := time.Now()
	if err := c.Store.MarkCollected(ctx, cb.ID, *snapshot, collectedAt); err != nil {
		log.Error().Err(err).Str("checkback", cb.ID.String()).Msg("failed to store snapshot")
		return
	}

	log.Info().
		Str("item", cb.QueueItemID.String()).
		Int("offset_hours", cb.OffsetHours).
		Int64("views", snapshot.Views).
		Msg("checkback collected")

	if c.Notifier != nil {
		c.Notifier.Trigger(ctx, domain.EventMetricsUpdated, map[string]any{
			"item_id":      cb.QueueItemID.String(),
			"platform":     item.Platform,
			"offset_hours": cb.OffsetHours,
			"views":        snapshot.Views,
			"likes":        snapshot.Likes,
			"comments":     snapshot.Comments,
			"shares":       snapshot.Shares,
			"saves":        snapshot.Saves,
		})

		for _, milestone := range domain.MilestonesCrossed(prevViews, snapshot.Views) {
			c.Notifier.Trigger(ctx, domain.EventMetricsMilestone, map[string]any{
				"item_id":   cb.QueueItemID.String(),
				"platform":  item.Platform,
				"milestone": milestone,
				"views":     snapshot.Views,
			})
		}
	}
}

func (c *CheckbackScheduler) failCheckback(ctx context.Context, cb domain.Checkback, item *domain.QueueItem, reason string) {
	if err := c.Store.MarkFailed(ctx, cb.ID, reason); err != nil {
		log.Error().Err(err).Str("checkback", cb.ID.String()).Msg("failed to mark checkback failed")
		return
	}

	log.Warn().
		Str("item", cb.QueueItemID.String()).
		Int("offset_hours", cb.OffsetHours).
		Str("reason", reason).
		Msg("checkback collection failed")

	if c.Notifier != nil {
		data := map[string]any{
			"item_id":      cb.QueueItemID.String(),
			"offset_hours": cb.OffsetHours,
			"error":        reason,
		}
		if item != nil {
			data["platform"] = item.Platform
		}
		c.Notifier.Trigger(ctx, domain.EventAPIError, data)
	}
}
