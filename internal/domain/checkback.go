package domain

import (
	"time"

	"github.com/google/uuid"
)

type CheckbackStatus string

const (
	CheckbackPending   CheckbackStatus = "pending"
	CheckbackCollected CheckbackStatus = "collected"
	CheckbackFailed    CheckbackStatus = "failed"
)

// DefaultCheckbackOffsets are the hour offsets from published_at at which
// metrics are re-fetched.
var DefaultCheckbackOffsets = []int{1, 6, 24, 72, 168}

// MilestoneThresholds are the watched view counts; crossing one between two
// consecutive snapshots emits a metrics.milestone event.
var MilestoneThresholds = []int64{1_000, 10_000, 100_000}

// Checkback is one scheduled (or completed) metrics snapshot for a published
// item. At most one row exists per (queue_item_id, offset_hours).
type Checkback struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	QueueItemID uuid.UUID       `json:"queue_item_id" gorm:"type:uuid;uniqueIndex:idx_checkback_item_offset"`
	OffsetHours int             `json:"offset_hours" gorm:"uniqueIndex:idx_checkback_item_offset"`
	DueAt       time.Time       `json:"due_at" gorm:"index"`
	Status      CheckbackStatus `json:"status" gorm:"index;default:'pending'"`

	Views          int64   `json:"views"`
	Likes          int64   `json:"likes"`
	Comments       int64   `json:"comments"`
	Shares         int64   `json:"shares"`
	Saves          int64   `json:"saves"`
	EngagementRate float64 `json:"engagement_rate"`

	LastError   string     `json:"last_error,omitempty"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	ClaimedAt   *time.Time `json:"-" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyMetrics copies a snapshot into the row and derives the engagement rate.
func (c *Checkback) ApplyMetrics(m MetricSnapshot) {
	c.Views = m.Views
	c.Likes = m.Likes
	c.Comments = m.Comments
	c.Shares = m.Shares
	c.Saves = m.Saves
	if m.Views > 0 {
		c.EngagementRate = float64(m.Likes+m.Comments+m.Shares) / float64(m.Views)
	}
}

// MilestonesCrossed returns the watched thresholds passed between two view
// counts, in ascending order.
func MilestonesCrossed(prev, curr int64) []int64 {
	var crossed []int64
	for _, t := range MilestoneThresholds {
		if prev < t && curr >= t {
			crossed = append(crossed, t)
		}
	}
	return crossed
}
