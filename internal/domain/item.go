package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusClaimed    Status = "claimed"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusMaxRetries Status = "max_retries_reached"
	StatusCancelled  Status = "cancelled"
)

// TerminalStatuses are the states from which no automatic transition occurs.
var TerminalStatuses = []Status{StatusPublished, StatusCancelled, StatusMaxRetries}

func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusCancelled || s == StatusMaxRetries
}

// InFlight reports whether a worker currently owns the item.
func (s Status) InFlight() bool {
	return s == StatusClaimed || s == StatusPublishing
}

// QueueItem is one unit of publishing work. The payload is an opaque blob
// handed to the platform adapter; this subsystem never inspects it beyond
// decoding the publish request fields.
type QueueItem struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Platform     string         `json:"platform" gorm:"index;not null"`
	AccountRef   string         `json:"account_ref"`
	Payload      datatypes.JSON `json:"payload"`
	Priority     int            `json:"priority" gorm:"default:0"`
	ScheduledFor time.Time      `json:"scheduled_for" gorm:"index"`
	Status       Status         `json:"status" gorm:"index;default:'queued'"`

	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	MaxRetries  int        `json:"max_retries" gorm:"default:3"`
	LastError   *string    `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" gorm:"index"`

	PlatformPostID string     `json:"platform_post_id,omitempty"`
	PlatformURL    string     `json:"platform_url,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusUpdate carries the optional metadata written together with a status
// transition. Zero values leave the corresponding column untouched.
type StatusUpdate struct {
	Status         Status
	Error          *string
	PlatformPostID string
	PlatformURL    string
	PublishedAt    *time.Time
	RetryCount     *int
	NextRetryAt    *time.Time
	ClearError     bool
	ClearNextRetry bool
	ClearClaim     bool
}

// QueueStats is the observability summary exposed by the queue store.
type QueueStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[Status]int64 `json:"by_status"`
	ByPlatform map[string]int64 `json:"by_platform"`
}

// PublishPayload is the shape the dispatcher decodes out of QueueItem.Payload
// when building the adapter request. Unknown fields are ignored.
type PublishPayload struct {
	MediaRef     string   `json:"media_ref"`
	Caption      string   `json:"caption"`
	Hashtags     []string `json:"hashtags"`
	ThumbnailRef string   `json:"thumbnail_ref"`
}
