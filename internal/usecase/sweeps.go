package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"puborch/internal/ports"
)

// Sweeper runs the periodic queue sweeps. Every sweep is safe to run
// concurrently with itself and the others: claims are atomic in the store
// and the selection predicates are exclusive by status.
type Sweeper struct {
	Queue      ports.QueueStore
	Dispatcher *Dispatcher

	WorkerID   string
	ClaimLimit int
	PoolSize   int
	StaleAfter time.Duration
}

// SweepDue claims due items and dispatches them in parallel, bounded by the
// worker pool size. Returns the count claimed.
func (s *Sweeper) SweepDue(ctx context.Context, now time.Time) (int, error) {
	items, err := s.Queue.ClaimDue(ctx, now, s.ClaimLimit, "", s.WorkerID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	pool := s.PoolSize
	if pool <= 0 {
		pool = 1
	}
	sem := make(chan struct{}, pool)
	var wg sync.WaitGroup

	for _, item := range items {
		it := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.Dispatcher.Process(ctx, it); err != nil {
				log.Error().Err(err).Str("item", it.ID.String()).Msg("dispatch error")
			}
		}()
	}
	wg.Wait()
	return len(items), nil
}

// SweepRetries re-queues failed items whose retry time has arrived; the next
// due sweep picks them up through the normal path.
func (s *Sweeper) SweepRetries(ctx context.Context, now time.Time) (int, error) {
	return s.Queue.RequeueRetries(ctx, now)
}

// SweepStale returns items abandoned in claimed/publishing by a crashed
// worker to the queue.
func (s *Sweeper) SweepStale(ctx context.Context, now time.Time) (int, error) {
	return s.Queue.ReclaimStale(ctx, now.Add(-s.StaleAfter))
}
