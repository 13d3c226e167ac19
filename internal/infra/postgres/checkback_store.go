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

var _ ports.CheckbackStore = (*CheckbackStore)(nil)

// checkbackReclaimAfter is how long a claimed pending checkback stays
// invisible before another sweep may pick it up again.
const checkbackReclaimAfter = 5 * time.Minute

type CheckbackStore struct {
	db *gorm.DB
}

func NewCheckbackStore(db *gorm.DB) *CheckbackStore {
	return &CheckbackStore{db: db}
}

// Schedule upserts the checkback batch. ON CONFLICT DO NOTHING on the
// (queue_item_id, offset_hours) unique index keeps the call idempotent and
// never overwrites an already collected snapshot.
func (s *CheckbackStore) Schedule(ctx context.Context, itemID uuid.UUID, publishedAt time.Time, offsetsHours []int) error {
	rows := make([]domain.Checkback, 0, len(offsetsHours))
	for _, off := range offsetsHours {
		rows = append(rows, domain.Checkback{
			ID:          uuid.New(),
			QueueItemID: itemID,
			OffsetHours: off,
			DueAt:       publishedAt.Add(time.Duration(off) * time.Hour),
			Status:      domain.CheckbackPending,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_item_id"}, {Name: "offset_hours"}},
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("schedule checkbacks: %w", err)
	}
	return nil
}

func (s *CheckbackStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Checkback, error) {
	var claimed []domain.Checkback

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND due_at <= ?", domain.CheckbackPending, now).
			Where("claimed_at IS NULL OR claimed_at <= ?", now.Add(-checkbackReclaimAfter)).
			Order("due_at ASC").
			Limit(limit).
			Find(&claimed).Error
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
		}
		return tx.Model(&domain.Checkback{}).Where("id IN ?", ids).
			Update("claimed_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim due checkbacks: %w", err)
	}
	return claimed, nil
}

func (s *CheckbackStore) MarkCollected(ctx context.Context, id uuid.UUID, m domain.MetricSnapshot, at time.Time) error {
	cb := domain.Checkback{}
	cb.ApplyMetrics(m)
	err := s.db.WithContext(ctx).Model(&domain.Checkback{}).
		Where("id = ? AND status = ?", id, domain.CheckbackPending).
		Updates(map[string]any{
			"status":          domain.CheckbackCollected,
			"views":           cb.Views,
			"likes":           cb.Likes,
			"comments":        cb.Comments,
			"shares":          cb.Shares,
			"saves":           cb.Saves,
			"engagement_rate": cb.EngagementRate,
			"collected_at":    at,
			"last_error":      "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark checkback collected: %w", err)
	}
	return nil
}

func (s *CheckbackStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.db.WithContext(ctx).Model(&domain.Checkback{}).
		Where("id = ? AND status = ?", id, domain.CheckbackPending).
		Updates(map[string]any{
			"status":     domain.CheckbackFailed,
			"last_error": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("mark checkback failed: %w", err)
	}
	return nil
}

func (s *CheckbackStore) ListByItem(ctx context.Context, itemID uuid.UUID) ([]domain.Checkback, error) {
	var rows []domain.Checkback
	err := s.db.WithContext(ctx).
		Where("queue_item_id = ?", itemID).
		Order("offset_hours ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list checkbacks: %w", err)
	}
	return rows, nil
}

func (s *CheckbackStore) LatestCollected(ctx context.Context, itemID uuid.UUID) (*domain.Checkback, error) {
	var cb domain.Checkback
	err := s.db.WithContext(ctx).
		Where("queue_item_id = ? AND status = ?", itemID, domain.CheckbackCollected).
		Order("collected_at DESC").
		First(&cb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest collected checkback: %w", err)
	}
	return &cb, nil
}
