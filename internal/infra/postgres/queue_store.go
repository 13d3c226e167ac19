package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"puborch/internal/domain"
	"puborch/internal/ports"
)

var _ ports.QueueStore = (*QueueStore)(nil)

type QueueStore struct {
	db *gorm.DB
}

func NewQueueStore(db *gorm.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = time.Now()
	}
	item.Status = domain.StatusQueued
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// ClaimDue selects due queued items with FOR UPDATE SKIP LOCKED and flips
// them to claimed inside one transaction, so concurrent sweeps never receive
// the same item. A rollback leaves no item partially transitioned.
func (s *QueueStore) ClaimDue(ctx context.Context, now time.Time, limit int, platform, claimedBy string) ([]domain.QueueItem, error) {
	var claimed []domain.QueueItem

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_for <= ?", domain.StatusQueued, now).
			Order("priority DESC, scheduled_for ASC").
			Limit(limit)
		if platform != "" {
			q = q.Where("platform = ?", platform)
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
		}
		if err := tx.Model(&domain.QueueItem{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":     domain.StatusClaimed,
			"claimed_by": claimedBy,
			"claimed_at": now,
		}).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = domain.StatusClaimed
			claimed[i].ClaimedBy = claimedBy
			at := now
			claimed[i].ClaimedAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	return claimed, nil
}

func (s *QueueStore) UpdateStatus(ctx context.Context, id uuid.UUID, upd domain.StatusUpdate) error {
	updates := map[string]any{"status": upd.Status}
	if upd.Error != nil {
		updates["last_error"] = *upd.Error
	}
	if upd.ClearError {
		updates["last_error"] = nil
	}
	if upd.PlatformPostID != "" {
		updates["platform_post_id"] = upd.PlatformPostID
	}
	if upd.PlatformURL != "" {
		updates["platform_url"] = upd.PlatformURL
	}
	if upd.PublishedAt != nil {
		updates["published_at"] = *upd.PublishedAt
	}
	if upd.RetryCount != nil {
		updates["retry_count"] = *upd.RetryCount
	}
	if upd.NextRetryAt != nil {
		updates["next_retry_at"] = *upd.NextRetryAt
	}
	if upd.ClearNextRetry {
		updates["next_retry_at"] = nil
	}
	if upd.ClearClaim {
		updates["claimed_by"] = ""
		updates["claimed_at"] = nil
	}

	res := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status NOT IN ?", id, domain.TerminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the row is gone or it already reached a terminal state.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrTerminalState
	}
	return nil
}

func (s *QueueStore) Cancel(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusQueued, domain.StatusFailed}).
		Updates(map[string]any{
			"status":        domain.StatusCancelled,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("cancel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrNotCancellable
	}
	return nil
}

func (s *QueueStore) RequeueRetries(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("status = ? AND retry_count < max_retries AND next_retry_at <= ?", domain.StatusFailed, now).
		Updates(map[string]any{
			"status":        domain.StatusQueued,
			"next_retry_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue retries: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *QueueStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("status IN ? AND claimed_at <= ?",
			[]domain.Status{domain.StatusClaimed, domain.StatusPublishing}, cutoff).
		Updates(map[string]any{
			"status":     domain.StatusQueued,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *QueueStore) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{
		ByStatus:   make(map[domain.Status]int64),
		ByPlatform: make(map[string]int64),
	}

	var byStatus []struct {
		Status domain.Status
		N      int64
	}
	if err := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Select("status, count(*) as n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.N
		stats.Total += row.N
	}

	var byPlatform []struct {
		Platform string
		N        int64
	}
	if err := s.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Select("platform, count(*) as n").Group("platform").Scan(&byPlatform).Error; err != nil {
		return nil, fmt.Errorf("stats by platform: %w", err)
	}
	for _, row := range byPlatform {
		stats.ByPlatform[row.Platform] = row.N
	}

	return stats, nil
}
