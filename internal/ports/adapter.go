package ports

import (
	"context"

	"puborch/internal/domain"
)

// PlatformAdapter is the per-platform collaborator that actually talks to a
// distribution platform. Implementations live outside this engine and are
// registered by name at startup. Failures should be returned as
// *domain.AdapterError so the dispatcher can record the error kind.
type PlatformAdapter interface {
	Name() string
	Publish(ctx context.Context, req domain.PublishRequest) (*domain.PublishResult, error)
	FetchMetrics(ctx context.Context, platformPostID string) (*domain.MetricSnapshot, error)
	IsAuthenticated(ctx context.Context, accountRef string) (bool, error)
}
