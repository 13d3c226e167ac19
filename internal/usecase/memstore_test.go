package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"puborch/internal/domain"
	"puborch/internal/ports"
)

// fakeQueueStore mirrors the postgres store semantics in memory: claims are
// atomic under the mutex and terminal states reject further writes.
type fakeQueueStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.QueueItem
}

var _ ports.QueueStore = (*fakeQueueStore)(nil)

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{items: make(map[uuid.UUID]*domain.QueueItem)}
}

func (s *fakeQueueStore) Enqueue(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = time.Now()
	}
	item.Status = domain.StatusQueued
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *fakeQueueStore) Get(_ context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *fakeQueueStore) ClaimDue(_ context.Context, now time.Time, limit int, platform, claimedBy string) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.QueueItem
	for _, item := range s.items {
		if item.Status != domain.StatusQueued || item.ScheduledFor.After(now) {
			continue
		}
		if platform != "" && item.Platform != platform {
			continue
		}
		due = append(due, item)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.QueueItem, 0, len(due))
	for _, item := range due {
		item.Status = domain.StatusClaimed
		item.ClaimedBy = claimedBy
		at := now
		item.ClaimedAt = &at
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

func (s *fakeQueueStore) UpdateStatus(_ context.Context, id uuid.UUID, upd domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status.Terminal() {
		return domain.ErrTerminalState
	}
	item.Status = upd.Status
	if upd.Error != nil {
		item.LastError = upd.Error
	}
	if upd.ClearError {
		item.LastError = nil
	}
	if upd.PlatformPostID != "" {
		item.PlatformPostID = upd.PlatformPostID
	}
	if upd.PlatformURL != "" {
		item.PlatformURL = upd.PlatformURL
	}
	if upd.PublishedAt != nil {
		item.PublishedAt = upd.PublishedAt
	}
	if upd.RetryCount != nil {
		item.RetryCount = *upd.RetryCount
	}
	if upd.NextRetryAt != nil {
		item.NextRetryAt = upd.NextRetryAt
	}
	if upd.ClearNextRetry {
		item.NextRetryAt = nil
	}
	if upd.ClearClaim {
		item.ClaimedBy = ""
		item.ClaimedAt = nil
	}
	return nil
}

func (s *fakeQueueStore) Cancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status != domain.StatusQueued && item.Status != domain.StatusFailed {
		return domain.ErrNotCancellable
	}
	item.Status = domain.StatusCancelled
	item.NextRetryAt = nil
	return nil
}

func (s *fakeQueueStore) RequeueRetries(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Status == domain.StatusFailed && item.RetryCount < item.MaxRetries &&
			item.NextRetryAt != nil && !item.NextRetryAt.After(now) {
			item.Status = domain.StatusQueued
			item.NextRetryAt = nil
			n++
		}
	}
	return n, nil
}

func (s *fakeQueueStore) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Status.InFlight() && item.ClaimedAt != nil && !item.ClaimedAt.After(cutoff) {
			item.Status = domain.StatusQueued
			item.ClaimedBy = ""
			item.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *fakeQueueStore) Stats(_ context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.QueueStats{
		ByStatus:   make(map[domain.Status]int64),
		ByPlatform: make(map[string]int64),
	}
	for _, item := range s.items {
		stats.ByStatus[item.Status]++
		stats.ByPlatform[item.Platform]++
		stats.Total++
	}
	return stats, nil
}

type fakeCheckbackStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Checkback
}

var _ ports.CheckbackStore = (*fakeCheckbackStore)(nil)

func newFakeCheckbackStore() *fakeCheckbackStore {
	return &fakeCheckbackStore{rows: make(map[uuid.UUID]*domain.Checkback)}
}

func (s *fakeCheckbackStore) Schedule(_ context.Context, itemID uuid.UUID, publishedAt time.Time, offsetsHours []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, off := range offsetsHours {
		exists := false
		for _, row := range s.rows {
			if row.QueueItemID == itemID && row.OffsetHours == off {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		id := uuid.New()
		s.rows[id] = &domain.Checkback{
			ID:          id,
			QueueItemID: itemID,
			OffsetHours: off,
			DueAt:       publishedAt.Add(time.Duration(off) * time.Hour),
			Status:      domain.CheckbackPending,
		}
	}
	return nil
}

func (s *fakeCheckbackStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.Checkback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Checkback
	for _, row := range s.rows {
		if row.Status != domain.CheckbackPending || row.DueAt.After(now) {
			continue
		}
		if row.ClaimedAt != nil && row.ClaimedAt.After(now.Add(-5*time.Minute)) {
			continue
		}
		at := now
		row.ClaimedAt = &at
		due = append(due, *row)
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *fakeCheckbackStore) MarkCollected(_ context.Context, id uuid.UUID, m domain.MetricSnapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != domain.CheckbackPending {
		return nil
	}
	row.ApplyMetrics(m)
	row.Status = domain.CheckbackCollected
	row.CollectedAt = &at
	row.LastError = ""
	return nil
}

func (s *fakeCheckbackStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != domain.CheckbackPending {
		return nil
	}
	row.Status = domain.CheckbackFailed
	row.LastError = reason
	return nil
}

func (s *fakeCheckbackStore) ListByItem(_ context.Context, itemID uuid.UUID) ([]domain.Checkback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Checkback
	for _, row := range s.rows {
		if row.QueueItemID == itemID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OffsetHours < out[j].OffsetHours })
	return out, nil
}

func (s *fakeCheckbackStore) LatestCollected(_ context.Context, itemID uuid.UUID) (*domain.Checkback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Checkback
	for _, row := range s.rows {
		if row.QueueItemID != itemID || row.Status != domain.CheckbackCollected {
			continue
		}
		if latest == nil || row.CollectedAt.After(*latest.CollectedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// recordingNotifier captures triggered events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Event domain.EventType
	Data  map[string]any
}

func (n *recordingNotifier) Trigger(_ context.Context, event domain.EventType, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Event: event, Data: data})
}

func (n *recordingNotifier) byType(event domain.EventType) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeAdapter scripts publish/metrics responses per test.
type fakeAdapter struct {
	name        string
	publishFn   func(ctx context.Context, req domain.PublishRequest) (*domain.PublishResult, error)
	metricsFn   func(ctx context.Context, platformPostID string) (*domain.MetricSnapshot, error)
	mu          sync.Mutex
	publishReqs []domain.PublishRequest
}

var _ ports.PlatformAdapter = (*fakeAdapter)(nil)

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Publish(ctx context.Context, req domain.PublishRequest) (*domain.PublishResult, error) {
	a.mu.Lock()
	a.publishReqs = append(a.publishReqs, req)
	a.mu.Unlock()
	return a.publishFn(ctx, req)
}

func (a *fakeAdapter) FetchMetrics(ctx context.Context, platformPostID string) (*domain.MetricSnapshot, error) {
	if a.metricsFn == nil {
		return &domain.MetricSnapshot{}, nil
	}
	return a.metricsFn(ctx, platformPostID)
}

func (a *fakeAdapter) IsAuthenticated(context.Context, string) (bool, error) {
	return true, nil
}
