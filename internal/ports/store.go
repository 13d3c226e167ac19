package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"puborch/internal/domain"
)

// QueueStore is the single shared mutable resource of the engine. Every
// component goes through this contract; nothing queries the table directly.
type QueueStore interface {
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)

	// ClaimDue atomically selects up to limit queued items whose
	// scheduled_for has passed (priority desc, scheduled_for asc) and
	// transitions them to claimed in the same step. No two concurrent
	// callers ever receive the same item. An empty platform matches all.
	ClaimDue(ctx context.Context, now time.Time, limit int, platform, claimedBy string) ([]domain.QueueItem, error)

	// UpdateStatus writes a new state plus optional metadata. It rejects
	// the write with domain.ErrTerminalState when the item is already
	// terminal.
	UpdateStatus(ctx context.Context, id uuid.UUID, upd domain.StatusUpdate) error

	// Cancel is allowed only while the item is queued or failed.
	Cancel(ctx context.Context, id uuid.UUID) error

	// RequeueRetries moves failed items with retry budget left and a due
	// next_retry_at back to queued. Returns the count re-queued.
	RequeueRetries(ctx context.Context, now time.Time) (int, error)

	// ReclaimStale returns items abandoned in claimed/publishing by a
	// crashed worker (claimed before the cutoff) to queued.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (*domain.QueueStats, error)
}

type CheckbackStore interface {
	// Schedule upserts one pending checkback per offset; calling it twice
	// for the same item never duplicates rows.
	Schedule(ctx context.Context, itemID uuid.UUID, publishedAt time.Time, offsetsHours []int) error

	// ClaimDue atomically claims up to limit pending checkbacks whose
	// due_at has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Checkback, error)

	MarkCollected(ctx context.Context, id uuid.UUID, m domain.MetricSnapshot, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	ListByItem(ctx context.Context, itemID uuid.UUID) ([]domain.Checkback, error)

	// LatestCollected returns the most recent collected snapshot for the
	// item, or nil when none exists yet.
	LatestCollected(ctx context.Context, itemID uuid.UUID) (*domain.Checkback, error)
}

type WebhookStore interface {
	CreateEndpoint(ctx context.Context, ep *domain.WebhookEndpoint) error
	UpdateEndpoint(ctx context.Context, ep *domain.WebhookEndpoint) error
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	GetEndpoint(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error)

	// ListSubscribed returns active endpoints subscribed to the event.
	ListSubscribed(ctx context.Context, event domain.EventType) ([]domain.WebhookEndpoint, error)

	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error

	// ClaimDelivery takes exclusive ownership of one pending delivery by
	// pushing its next_attempt_at past the visibility window. It reports
	// false when the row was already delivered or claimed.
	ClaimDelivery(ctx context.Context, id uuid.UUID, now time.Time, visibility time.Duration) (bool, error)

	// ClaimDueDeliveries does the same for a batch of due pending rows.
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]domain.WebhookDelivery, error)

	RecordResult(ctx context.Context, id uuid.UUID, status int, success bool, errMsg string, at time.Time) error

	ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]domain.WebhookDelivery, error)
	DeliveryStats(ctx context.Context) (*domain.DeliveryStats, error)

	// BumpFailure increments the endpoint failure counter and deactivates
	// the endpoint once the counter exceeds the threshold. Reports whether
	// the endpoint was deactivated by this call.
	BumpFailure(ctx context.Context, id uuid.UUID, threshold int) (bool, error)
	ResetFailures(ctx context.Context, id uuid.UUID) error
}
