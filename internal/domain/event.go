package domain

import "time"

type EventType string

const (
	EventPostScheduled    EventType = "post.scheduled"
	EventPostPublishing   EventType = "post.publishing"
	EventPostPublished    EventType = "post.published"
	EventPostFailed       EventType = "post.failed"
	EventPostDeleted      EventType = "post.deleted"
	EventMetricsUpdated   EventType = "metrics.updated"
	EventMetricsMilestone EventType = "metrics.milestone"
	EventRateLimitWarning EventType = "system.rate_limit_warning"
	EventAPIError         EventType = "system.api_error"
)

// Event is the wire shape delivered to webhook subscribers and handed to
// in-process handlers.
type Event struct {
	Event     EventType      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
