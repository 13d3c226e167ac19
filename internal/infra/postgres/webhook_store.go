package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"puborch/internal/domain"
	"puborch/internal/ports"
)

var _ ports.WebhookStore = (*WebhookStore)(nil)

type WebhookStore struct {
	db *gorm.DB
}

func NewWebhookStore(db *gorm.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

func (s *WebhookStore) CreateEndpoint(ctx context.Context, ep *domain.WebhookEndpoint) error {
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(ep).Error; err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

func (s *WebhookStore) UpdateEndpoint(ctx context.Context, ep *domain.WebhookEndpoint) error {
	res := s.db.WithContext(ctx).Model(&domain.WebhookEndpoint{}).
		Where("id = ?", ep.ID).
		Updates(map[string]any{
			"url":           ep.URL,
			"secret":        ep.Secret,
			"events":        ep.Events,
			"active":        ep.Active,
			"failure_count": ep.FailureCount,
		})
	if res.Error != nil {
		return fmt.Errorf("update endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *WebhookStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&domain.WebhookEndpoint{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *WebhookStore) GetEndpoint(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	var ep domain.WebhookEndpoint
	err := s.db.WithContext(ctx).First(&ep, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return &ep, nil
}

func (s *WebhookStore) ListEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	var eps []domain.WebhookEndpoint
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&eps).Error; err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return eps, nil
}

// ListSubscribed loads active endpoints and filters the subscribed event set
// in memory; endpoint counts are small and the JSON column stays portable.
func (s *WebhookStore) ListSubscribed(ctx context.Context, event domain.EventType) ([]domain.WebhookEndpoint, error) {
	var active []domain.WebhookEndpoint
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&active).Error; err != nil {
		return nil, fmt.Errorf("list subscribed: %w", err)
	}

	var out []domain.WebhookEndpoint
	for _, ep := range active {
		if EndpointSubscribed(ep, event) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// EndpointSubscribed reports whether the endpoint's event set includes the
// event. An empty or absent set subscribes to everything.
func EndpointSubscribed(ep domain.WebhookEndpoint, event domain.EventType) bool {
	if len(ep.Events) == 0 {
		return true
	}
	var events []domain.EventType
	if err := json.Unmarshal(ep.Events, &events); err != nil {
		return false
	}
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

func (s *WebhookStore) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

// ClaimDelivery pushes next_attempt_at past the visibility window in one
// compare-and-swap update, so the inline delivery path and the retry sweep
// never send the same row twice.
func (s *WebhookStore) ClaimDelivery(ctx context.Context, id uuid.UUID, now time.Time, visibility time.Duration) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.WebhookDelivery{}).
		Where("id = ? AND delivered_at IS NULL AND next_attempt_at <= ?", id, now).
		Update("next_attempt_at", now.Add(visibility))
	if res.Error != nil {
		return false, fmt.Errorf("claim delivery: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *WebhookStore) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]domain.WebhookDelivery, error) {
	var claimed []domain.WebhookDelivery

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("delivered_at IS NULL AND next_attempt_at <= ?", now).
			Order("next_attempt_at ASC").
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
		return tx.Model(&domain.WebhookDelivery{}).Where("id IN ?", ids).
			Update("next_attempt_at", now.Add(visibility)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	return claimed, nil
}

func (s *WebhookStore) RecordResult(ctx context.Context, id uuid.UUID, status int, success bool, errMsg string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&domain.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"response_status": status,
			"success":         success,
			"error":           errMsg,
			"delivered_at":    at,
			"next_attempt_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("record delivery result: %w", err)
	}
	return nil
}

func (s *WebhookStore) ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]domain.WebhookDelivery, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if endpointID != uuid.Nil {
		q = q.Where("endpoint_id = ?", endpointID)
	}
	var ds []domain.WebhookDelivery
	if err := q.Find(&ds).Error; err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return ds, nil
}

func (s *WebhookStore) DeliveryStats(ctx context.Context) (*domain.DeliveryStats, error) {
	stats := &domain.DeliveryStats{}
	if err := s.db.WithContext(ctx).Model(&domain.WebhookDelivery{}).
		Where("delivered_at IS NOT NULL").Count(&stats.Attempted).Error; err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&domain.WebhookDelivery{}).
		Where("delivered_at IS NOT NULL AND success = ?", true).Count(&stats.Succeeded).Error; err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	if stats.Attempted > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Attempted)
	}
	return stats, nil
}

func (s *WebhookStore) BumpFailure(ctx context.Context, id uuid.UUID, threshold int) (bool, error) {
	var deactivated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.WebhookEndpoint{}).Where("id = ?", id).
			Update("failure_count", gorm.Expr("failure_count + 1")).Error; err != nil {
			return err
		}
		var ep domain.WebhookEndpoint
		if err := tx.First(&ep, "id = ?", id).Error; err != nil {
			return err
		}
		if ep.Active && ep.FailureCount > threshold {
			if err := tx.Model(&domain.WebhookEndpoint{}).Where("id = ?", id).
				Update("active", false).Error; err != nil {
				return err
			}
			deactivated = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bump failure count: %w", err)
	}
	return deactivated, nil
}

func (s *WebhookStore) ResetFailures(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&domain.WebhookEndpoint{}).
		Where("id = ?", id).Update("failure_count", 0).Error
	if err != nil {
		return fmt.Errorf("reset failure count: %w", err)
	}
	return nil
}
