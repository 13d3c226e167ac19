package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEndpoint is a subscriber registration. An endpoint with an empty
// event list receives every event.
type WebhookEndpoint struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	URL          string         `json:"url" gorm:"not null"`
	Secret       string         `json:"-"`
	Events       datatypes.JSON `json:"events"`
	Active       bool           `json:"active" gorm:"default:true;index"`
	FailureCount int            `json:"failure_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookDelivery records one attempt to deliver one event to one endpoint.
// A row with a nil DeliveredAt and a non-nil NextAttemptAt is pending.
type WebhookDelivery struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	EndpointID uuid.UUID      `json:"endpoint_id" gorm:"type:uuid;index"`
	Event      EventType      `json:"event"`
	Payload    datatypes.JSON `json:"payload"`
	Attempt    int            `json:"attempt"`

	ResponseStatus int        `json:"response_status"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty" gorm:"index"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DeliveryStats aggregates attempted deliveries for the management surface.
type DeliveryStats struct {
	Attempted   int64   `json:"attempted"`
	Succeeded   int64   `json:"succeeded"`
	SuccessRate float64 `json:"success_rate"`
}
