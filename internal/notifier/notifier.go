package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"puborch/internal/config"
	"puborch/internal/domain"
	"puborch/internal/ports"
	"puborch/pkg/backoff"
)

// deliveryVisibility is how long a claimed delivery row stays invisible to
// other senders while an attempt is in flight.
const deliveryVisibility = 2 * time.Minute

// Handler is an in-process event subscriber. Handlers run on their own
// goroutine; a panic inside one never affects HTTP delivery.
type Handler func(ctx context.Context, ev domain.Event)

// Notifier fans lifecycle events out to registered webhook endpoints with
// signed payloads, persisting every attempt as a WebhookDelivery. Trigger
// returns quickly; delivery and retries happen on a background path.
type Notifier struct {
	store  ports.WebhookStore
	client *http.Client
	ladder backoff.Ladder

	maxAttempts      int
	failureThreshold int
	sweepLimit       int

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
}

func New(store ports.WebhookStore, cfg config.Webhook) *Notifier {
	return &Notifier{
		store:            store,
		client:           &http.Client{Timeout: cfg.Timeout},
		ladder:           backoff.Webhook,
		maxAttempts:      cfg.MaxAttempts,
		failureThreshold: cfg.FailureThreshold,
		sweepLimit:       cfg.SweepLimit,
		sem:              make(chan struct{}, 8),
		handlers:         make(map[domain.EventType][]Handler),
	}
}

// Subscribe registers an in-process handler for an event type.
func (n *Notifier) Subscribe(event domain.EventType, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[event] = append(n.handlers[event], h)
}

// Trigger publishes an event to in-process handlers and to every active
// endpoint subscribed to it. The first HTTP attempt per endpoint starts
// immediately on a background goroutine.
func (n *Notifier) Trigger(ctx context.Context, event domain.EventType, data map[string]any) {
	ev := domain.Event{Event: event, Timestamp: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal event")
		return
	}

	n.dispatchHandlers(ctx, ev)

	endpoints, err := n.store.ListSubscribed(ctx, event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to list webhook endpoints")
		return
	}

	// Delivery outlives the triggering request.
	bg := context.WithoutCancel(ctx)
	now := time.Now()
	for _, ep := range endpoints {
		d := &domain.WebhookDelivery{
			ID:            uuid.New(),
			EndpointID:    ep.ID,
			Event:         event,
			Payload:       payload,
			Attempt:       1,
			NextAttemptAt: &now,
		}
		if err := n.store.CreateDelivery(bg, d); err != nil {
			log.Error().Err(err).Str("endpoint", ep.ID.String()).Msg("failed to persist delivery")
			continue
		}

		endpoint := ep
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.sem <- struct{}{}
			defer func() { <-n.sem }()

			ok, err := n.store.ClaimDelivery(bg, d.ID, time.Now(), deliveryVisibility)
			if err != nil || !ok {
				return
			}
			n.attempt(bg, *d, endpoint)
		}()
	}
}

func (n *Notifier) dispatchHandlers(ctx context.Context, ev domain.Event) {
	n.mu.RLock()
	hs := n.handlers[ev.Event]
	n.mu.RUnlock()

	for _, h := range hs {
		handler := h
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event", string(ev.Event)).Msg("event handler panicked")
				}
			}()
			handler(ctx, ev)
		}()
	}
}

// SweepRetries attempts every pending delivery whose retry time has arrived.
// Returns the count attempted.
func (n *Notifier) SweepRetries(ctx context.Context, now time.Time) (int, error) {
	claimed, err := n.store.ClaimDueDeliveries(ctx, now, n.sweepLimit, deliveryVisibility)
	if err != nil {
		return 0, err
	}

	for _, d := range claimed {
		ep, err := n.store.GetEndpoint(ctx, d.EndpointID)
		if err != nil {
			// Endpoint was deleted; resolve the row so it stops looping.
			_ = n.store.RecordResult(ctx, d.ID, 0, false, "endpoint no longer exists", time.Now())
			continue
		}
		if !ep.Active {
			_ = n.store.RecordResult(ctx, d.ID, 0, false, "endpoint deactivated", time.Now())
			continue
		}
		n.attempt(ctx, d, *ep)
	}
	return len(claimed), nil
}

// attempt performs one HTTP delivery and records the outcome. A failed
// attempt with budget left schedules the next one via the retry ladder;
// exhausting the budget bumps the endpoint failure counter.
func (n *Notifier) attempt(ctx context.Context, d domain.WebhookDelivery, ep domain.WebhookEndpoint) {
	status, err := n.send(ctx, d, ep)
	now := time.Now()

	if err == nil && status >= 200 && status < 300 {
		if rerr := n.store.RecordResult(ctx, d.ID, status, true, "", now); rerr != nil {
			log.Error().Err(rerr).Msg("failed to record delivery success")
		}
		if rerr := n.store.ResetFailures(ctx, ep.ID); rerr != nil {
			log.Error().Err(rerr).Msg("failed to reset endpoint failures")
		}
		return
	}

	errMsg := fmt.Sprintf("unexpected status %d", status)
	if err != nil {
		errMsg = err.Error()
	}
	if rerr := n.store.RecordResult(ctx, d.ID, status, false, errMsg, now); rerr != nil {
		log.Error().Err(rerr).Msg("failed to record delivery failure")
	}

	log.Warn().
		Str("endpoint", ep.ID.String()).
		Str("event", string(d.Event)).
		Int("attempt", d.Attempt).
		Int("status", status).
		Msg("webhook delivery failed")

	if d.Attempt < n.maxAttempts {
		retryAt := now.Add(n.ladder.Delay(d.Attempt - 1))
		next := &domain.WebhookDelivery{
			ID:            uuid.New(),
			EndpointID:    d.EndpointID,
			Event:         d.Event,
			Payload:       d.Payload,
			Attempt:       d.Attempt + 1,
			NextAttemptAt: &retryAt,
		}
		if cerr := n.store.CreateDelivery(ctx, next); cerr != nil {
			log.Error().Err(cerr).Msg("failed to schedule delivery retry")
		}
		return
	}

	deactivated, berr := n.store.BumpFailure(ctx, ep.ID, n.failureThreshold)
	if berr != nil {
		log.Error().Err(berr).Msg("failed to bump endpoint failure count")
		return
	}
	if deactivated {
		log.Warn().Str("endpoint", ep.ID.String()).Str("url", ep.URL).Msg("webhook endpoint deactivated after repeated failures")
	}
}

func (n *Notifier) send(ctx context.Context, d domain.WebhookDelivery, ep domain.WebhookEndpoint) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(d.Payload, ep.Secret))
	req.Header.Set("X-Webhook-Event", string(d.Event))
	req.Header.Set("X-Webhook-Delivery", d.ID.String())
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// Close waits for in-flight background deliveries and handlers to finish.
func (n *Notifier) Close() {
	n.wg.Wait()
}
