package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"puborch/internal/domain"
	"puborch/internal/platform"
	"puborch/internal/ports"
	"puborch/pkg/backoff"
)

// RateLimiter guards adapter publish calls. A nil limiter allows everything.
type RateLimiter interface {
	Allow(ctx context.Context, platform string) (allowed, nearLimit bool, err error)
}

// Dispatcher drives a claimed item through the publish state machine. It is
// the only component that writes QueueItem.status.
type Dispatcher struct {
	Queue      ports.QueueStore
	Checkbacks *CheckbackScheduler
	Adapters   *platform.Registry
	Notifier   Notifier
	Limiter    RateLimiter

	AdapterTimeout time.Duration
	Ladder         backoff.Ladder
}

// Process resolves one claimed item to published, failed or
// max_retries_reached. A panic anywhere in the attempt is converted into a
// failure so the item is never left in publishing.
func (d *Dispatcher) Process(ctx context.Context, item domain.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("item", item.ID.String()).Msg("dispatch panicked")
			err = d.fail(ctx, item, domain.NewAdapterError(domain.ErrKindInternal, "panic during dispatch: %v", r))
		}
	}()

	if uerr := d.Queue.UpdateStatus(ctx, item.ID, domain.StatusUpdate{Status: domain.StatusPublishing}); uerr != nil {
		if errors.Is(uerr, domain.ErrTerminalState) {
			// Cancelled or resolved elsewhere between claim and dispatch.
			return nil
		}
		return fmt.Errorf("mark publishing: %w", uerr)
	}
	d.trigger(ctx, domain.EventPostPublishing, item, nil)

	adapter, ok := d.Adapters.Get(item.Platform)
	if !ok {
		return d.fail(ctx, item, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, item.Platform))
	}

	if d.Limiter != nil {
		allowed, nearLimit, lerr := d.Limiter.Allow(ctx, item.Platform)
		if lerr != nil {
			log.Warn().Err(lerr).Str("platform", item.Platform).Msg("rate limiter unavailable, allowing publish")
		}
		if nearLimit {
			d.trigger(ctx, domain.EventRateLimitWarning, item, map[string]any{"platform": item.Platform})
		}
		if !allowed {
			return d.fail(ctx, item, domain.NewAdapterError(domain.ErrKindRateLimited, "publish rate limit exceeded for %s", item.Platform))
		}
	}

	var payload domain.PublishPayload
	if len(item.Payload) > 0 {
		if jerr := json.Unmarshal(item.Payload, &payload); jerr != nil {
			return d.fail(ctx, item, fmt.Errorf("invalid publish payload: %w", jerr))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.AdapterTimeout)
	defer cancel()

	res, perr := adapter.Publish(callCtx, domain.PublishRequest{
		IdempotencyKey: item.ID.String(),
		AccountRef:     item.AccountRef,
		MediaRef:       payload.MediaRef,
		Caption:        payload.Caption,
		Hashtags:       payload.Hashtags,
		ThumbnailRef:   payload.ThumbnailRef,
	})
	if perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			perr = domain.NewAdapterError(domain.ErrKindTimeout, "publish timed out after %s", d.AdapterTimeout)
		}
		return d.fail(ctx, item, perr)
	}

	publishedAt := res.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	if uerr := d.Queue.UpdateStatus(ctx, item.ID, domain.StatusUpdate{
		Status:         domain.StatusPublished,
		PlatformPostID: res.PlatformPostID,
		PlatformURL:    res.PlatformURL,
		PublishedAt:    &publishedAt,
		ClearError:     true,
		ClearNextRetry: true,
		ClearClaim:     true,
	}); uerr != nil {
		return fmt.Errorf("mark published: %w", uerr)
	}

	log.Info().
		Str("item", item.ID.String()).
		Str("platform", item.Platform).
		Str("post_id", res.PlatformPostID).
		Msg("item published")

	d.trigger(ctx, domain.EventPostPublished, item, map[string]any{
		"platform_post_id": res.PlatformPostID,
		"platform_url":     res.PlatformURL,
		"published_at":     publishedAt,
	})

	if cerr := d.Checkbacks.Schedule(ctx, item.ID, publishedAt); cerr != nil {
		// Side channel: the publish stands, the gap is visible as missing
		// snapshots.
		log.Error().Err(cerr).Str("item", item.ID.String()).Msg("failed to schedule checkbacks")
	}
	return nil
}

// fail applies the retry policy: increment the count, then either schedule
// the next attempt off the backoff ladder or park the item permanently.
func (d *Dispatcher) fail(ctx context.Context, item domain.QueueItem, cause error) error {
	retryCount := item.RetryCount + 1
	msg := cause.Error()

	if retryCount < item.MaxRetries {
		nextRetry := time.Now().Add(d.Ladder.Delay(retryCount - 1))
		if uerr := d.Queue.UpdateStatus(ctx, item.ID, domain.StatusUpdate{
			Status:      domain.StatusFailed,
			Error:       &msg,
			RetryCount:  &retryCount,
			NextRetryAt: &nextRetry,
			ClearClaim:  true,
		}); uerr != nil {
			return fmt.Errorf("mark failed: %w", uerr)
		}

		log.Warn().
			Str("item", item.ID.String()).
			Int("retry_count", retryCount).
			Time("next_retry_at", nextRetry).
			Str("error", msg).
			Msg("publish failed, retry scheduled")

		d.trigger(ctx, domain.EventPostFailed, item, map[string]any{
			"error":           msg,
			"retry_count":     retryCount,
			"retry_scheduled": true,
			"next_retry_at":   nextRetry,
		})
		return nil
	}

	if uerr := d.Queue.UpdateStatus(ctx, item.ID, domain.StatusUpdate{
		Status:         domain.StatusMaxRetries,
		Error:          &msg,
		RetryCount:     &retryCount,
		ClearNextRetry: true,
		ClearClaim:     true,
	}); uerr != nil {
		return fmt.Errorf("mark max retries: %w", uerr)
	}

	log.Error().
		Str("item", item.ID.String()).
		Int("retry_count", retryCount).
		Str("error", msg).
		Msg("publish failed permanently")

	d.trigger(ctx, domain.EventPostFailed, item, map[string]any{
		"error":           msg,
		"retry_count":     retryCount,
		"retry_scheduled": false,
	})
	return nil
}

func (d *Dispatcher) trigger(ctx context.Context, event domain.EventType, item domain.QueueItem, extra map[string]any) {
	if d.Notifier == nil {
		return
	}
	data := map[string]any{
		"item_id":  item.ID.String(),
		"platform": item.Platform,
	}
	for k, v := range extra {
		data[k] = v
	}
	d.Notifier.Trigger(ctx, event, data)
}
