package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"puborch/internal/domain"
	"puborch/internal/platform"
	"puborch/pkg/backoff"
)

type fakeLimiter struct {
	allowed   bool
	nearLimit bool
	err       error
}

func (l *fakeLimiter) Allow(context.Context, string) (bool, bool, error) {
	return l.allowed, l.nearLimit, l.err
}

type dispatchEnv struct {
	queue      *fakeQueueStore
	checkbacks *fakeCheckbackStore
	notifier   *recordingNotifier
	adapter    *fakeAdapter
	dispatcher *Dispatcher
}

func newDispatchEnv(t *testing.T, adapter *fakeAdapter) *dispatchEnv {
	t.Helper()

	queue := newFakeQueueStore()
	checkbacks := newFakeCheckbackStore()
	notifier := &recordingNotifier{}

	registry := platform.NewRegistry()
	if adapter != nil {
		registry.Register(adapter)
	}

	return &dispatchEnv{
		queue:      queue,
		checkbacks: checkbacks,
		notifier:   notifier,
		adapter:    adapter,
		dispatcher: &Dispatcher{
			Queue: queue,
			Checkbacks: &CheckbackScheduler{
				Store:    checkbacks,
				Queue:    queue,
				Adapters: registry,
				Notifier: notifier,
			},
			Adapters:       registry,
			Notifier:       notifier,
			AdapterTimeout: time.Second,
			Ladder:         backoff.Publish,
		},
	}
}

func (e *dispatchEnv) enqueue(t *testing.T, item *domain.QueueItem) *domain.QueueItem {
	t.Helper()
	if item.MaxRetries == 0 {
		item.MaxRetries = 3
	}
	require.NoError(t, e.queue.Enqueue(context.Background(), item))
	return item
}

func (e *dispatchEnv) claimOne(t *testing.T) domain.QueueItem {
	t.Helper()
	claimed, err := e.queue.ClaimDue(context.Background(), time.Now(), 1, "", "worker-test")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestDispatcherPublishesItem(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "tiktok",
		publishFn: func(_ context.Context, req domain.PublishRequest) (*domain.PublishResult, error) {
			return &domain.PublishResult{
				PlatformPostID: "tt-42",
				PlatformURL:    "https://tiktok.example/tt-42",
			}, nil
		},
	}
	env := newDispatchEnv(t, adapter)

	item := env.enqueue(t, &domain.QueueItem{
		Platform:   "tiktok",
		AccountRef: "acct-1",
		Payload:    datatypes.JSON(`{"media_ref":"s3://clips/a.mp4","caption":"hello","hashtags":["go"]}`),
	})

	claimed := env.claimOne(t)
	require.NoError(t, env.dispatcher.Process(ctx, claimed))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, "tt-42", got.PlatformPostID)
	assert.Equal(t, "https://tiktok.example/tt-42", got.PlatformURL)
	assert.NotNil(t, got.PublishedAt)
	assert.Nil(t, got.LastError)
	assert.Empty(t, got.ClaimedBy)

	// The adapter received the decoded payload with the item id as
	// idempotency key.
	require.Len(t, adapter.publishReqs, 1)
	assert.Equal(t, item.ID.String(), adapter.publishReqs[0].IdempotencyKey)
	assert.Equal(t, "s3://clips/a.mp4", adapter.publishReqs[0].MediaRef)
	assert.Equal(t, []string{"go"}, adapter.publishReqs[0].Hashtags)

	// One pending checkback per default offset.
	rows, err := env.checkbacks.ListByItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, rows, len(domain.DefaultCheckbackOffsets))
	for i, row := range rows {
		assert.Equal(t, domain.DefaultCheckbackOffsets[i], row.OffsetHours)
		assert.Equal(t, domain.CheckbackPending, row.Status)
	}

	assert.Len(t, env.notifier.byType(domain.EventPostPublishing), 1)
	published := env.notifier.byType(domain.EventPostPublished)
	require.Len(t, published, 1)
	assert.Equal(t, "tt-42", published[0].Data["platform_post_id"])
}

func TestDispatcherRetriesThenParksItem(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "youtube",
		publishFn: func(context.Context, domain.PublishRequest) (*domain.PublishResult, error) {
			return nil, domain.NewAdapterError(domain.ErrKindNetwork, "upstream unreachable")
		},
	}
	env := newDispatchEnv(t, adapter)

	item := env.enqueue(t, &domain.QueueItem{Platform: "youtube", AccountRef: "acct-2", MaxRetries: 3})

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		claimed := env.claimOne(t)
		require.NoError(t, env.dispatcher.Process(ctx, claimed))

		got, err := env.queue.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Contains(t, *got.LastError, "upstream unreachable")

		if attempt < 3 {
			assert.Equal(t, domain.StatusFailed, got.Status)
			require.NotNil(t, got.NextRetryAt)
			delays = append(delays, time.Until(*got.NextRetryAt))

			n, err := env.queue.RequeueRetries(ctx, got.NextRetryAt.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		} else {
			assert.Equal(t, domain.StatusMaxRetries, got.Status)
			assert.Nil(t, got.NextRetryAt)
		}
	}

	// The backoff ladder grows between attempts.
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
	assert.InDelta(t, (5 * time.Minute).Seconds(), delays[0].Seconds(), 5)
	assert.InDelta(t, (15 * time.Minute).Seconds(), delays[1].Seconds(), 5)

	failed := env.notifier.byType(domain.EventPostFailed)
	require.Len(t, failed, 3)
	assert.Equal(t, true, failed[0].Data["retry_scheduled"])
	assert.Equal(t, true, failed[1].Data["retry_scheduled"])
	assert.Equal(t, false, failed[2].Data["retry_scheduled"])

	// A parked item is terminal: no further claims, no cancellation.
	claimed, err := env.queue.ClaimDue(ctx, time.Now().Add(time.Hour), 10, "", "worker-test")
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.ErrorIs(t, env.queue.Cancel(ctx, item.ID), domain.ErrNotCancellable)
}

func TestDispatcherUnknownPlatform(t *testing.T) {
	ctx := context.Background()
	env := newDispatchEnv(t, nil)

	item := env.enqueue(t, &domain.QueueItem{Platform: "myspace"})
	claimed := env.claimOne(t)
	require.NoError(t, env.dispatcher.Process(ctx, claimed))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "myspace")
}

func TestDispatcherRecoversFromAdapterPanic(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "tiktok",
		publishFn: func(context.Context, domain.PublishRequest) (*domain.PublishResult, error) {
			panic("adapter bug")
		},
	}
	env := newDispatchEnv(t, adapter)

	item := env.enqueue(t, &domain.QueueItem{Platform: "tiktok"})
	claimed := env.claimOne(t)
	require.NoError(t, env.dispatcher.Process(ctx, claimed))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "panic")
}

func TestDispatcherRateLimited(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "instagram",
		publishFn: func(context.Context, domain.PublishRequest) (*domain.PublishResult, error) {
			t.Fatal("publish must not be called when the limiter denies")
			return nil, nil
		},
	}
	env := newDispatchEnv(t, adapter)
	env.dispatcher.Limiter = &fakeLimiter{allowed: false}

	item := env.enqueue(t, &domain.QueueItem{Platform: "instagram"})
	claimed := env.claimOne(t)
	require.NoError(t, env.dispatcher.Process(ctx, claimed))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "rate limit")
}

func TestDispatcherNearLimitWarning(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "instagram",
		publishFn: func(context.Context, domain.PublishRequest) (*domain.PublishResult, error) {
			return &domain.PublishResult{PlatformPostID: "ig-1"}, nil
		},
	}
	env := newDispatchEnv(t, adapter)
	env.dispatcher.Limiter = &fakeLimiter{allowed: true, nearLimit: true}

	env.enqueue(t, &domain.QueueItem{Platform: "instagram"})
	require.NoError(t, env.dispatcher.Process(ctx, env.claimOne(t)))

	assert.Len(t, env.notifier.byType(domain.EventRateLimitWarning), 1)
	assert.Len(t, env.notifier.byType(domain.EventPostPublished), 1)
}

func TestDispatcherSkipsItemResolvedElsewhere(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "tiktok",
		publishFn: func(context.Context, domain.PublishRequest) (*domain.PublishResult, error) {
			t.Fatal("publish must not be called for a terminal item")
			return nil, nil
		},
	}
	env := newDispatchEnv(t, adapter)

	item := env.enqueue(t, &domain.QueueItem{Platform: "tiktok"})
	claimed := env.claimOne(t)

	// Operator cancels between claim and dispatch.
	require.NoError(t, env.queue.UpdateStatus(ctx, item.ID, domain.StatusUpdate{Status: domain.StatusCancelled}))

	require.NoError(t, env.dispatcher.Process(ctx, claimed))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestDispatcherTimeoutMapsToAdapterError(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		name: "youtube",
		publishFn: func(ctx context.Context, _ domain.PublishRequest) (*domain.PublishResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	env := newDispatchEnv(t, adapter)
	env.dispatcher.AdapterTimeout = 20 * time.Millisecond

	item := env.enqueue(t, &domain.QueueItem{Platform: "youtube"})
	require.NoError(t, env.dispatcher.Process(ctx, env.claimOne(t)))

	got, err := env.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, string(domain.ErrKindTimeout))
}

func TestEnqueuerDefaults(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueueStore()
	notifier := &recordingNotifier{}
	enq := Enqueuer{Queue: queue, Notifier: notifier, DefaultMaxRetries: 3}

	item, err := enq.Enqueue(ctx, &domain.QueueItem{Platform: "tiktok"})
	require.NoError(t, err)
	assert.Equal(t, 3, item.MaxRetries)
	assert.False(t, item.ScheduledFor.IsZero())

	got, err := queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)

	assert.Len(t, notifier.byType(domain.EventPostScheduled), 1)

	_, err = enq.Enqueue(ctx, &domain.QueueItem{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform")
}
