package domain

import (
	"fmt"
	"time"
)

// PublishRequest is what the dispatcher hands to a platform adapter. The
// idempotency key is the queue item id; a well-behaved adapter uses it to
// detect and no-op a duplicate submission.
type PublishRequest struct {
	IdempotencyKey string
	AccountRef     string
	MediaRef       string
	Caption        string
	Hashtags       []string
	ThumbnailRef   string
}

type PublishResult struct {
	PlatformPostID string
	PlatformURL    string
	PublishedAt    time.Time
}

type MetricSnapshot struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Saves    int64 `json:"saves"`
}

// ErrorKind classifies an adapter failure. Every kind enters the retry
// ladder; the kind is recorded so operators can tell a rate limit from a
// credential problem without string matching.
type ErrorKind string

const (
	ErrKindNetwork     ErrorKind = "network"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindRejected    ErrorKind = "rejected"
	ErrKindInternal    ErrorKind = "internal"
)

type AdapterError struct {
	Kind    ErrorKind
	Message string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewAdapterError(kind ErrorKind, format string, args ...any) *AdapterError {
	return &AdapterError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
