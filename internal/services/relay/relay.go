// Package relay publishes outbox events to Kafka.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/models"
)

type Repository interface {
	ClaimPendingEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
	RescheduleEvents(ctx context.Context, ids []string, at time.Time) error
}

type Producer interface {
	PublishEvent(ctx context.Context, topic string, ev messages.DeskEvent) error
}

// RateLimiter spends the per-minute publish budget of a topic.
type RateLimiter interface {
	AllowPublish(ctx context.Context, topic string, at time.Time, perMinute int64) (bool, int64, error)
}

type Relay struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic   string
	backoff *Backoff

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	publishAttempts    int
	publishPause       time.Duration

	triggerCh chan struct{}
	now       func() time.Time

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalDeferred       atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Relay {
	return &Relay{
		repo: repo, producer: producer, rl: rl, topic: topic,
		backoff:            NewBackoff(DefaultBackoffConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              60 * time.Second,
		rateLimitPerMinute: 6000,
		publishAttempts:    3,
		publishPause:       150 * time.Millisecond,
		triggerCh:          make(chan struct{}, 1),
		now:                time.Now,
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Relay) WithBackoff(cfg BackoffConfig, rnd Rand) *Relay {
	r.backoff = NewBackoff(cfg, rnd)
	return r
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalDeferred  int64      `json:"totalDeferred"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalDeferred:  r.totalDeferred.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

// runOnce drains the outbox. The store hands out only the oldest unpublished
// event of each aggregate, so every round moves each aggregate forward by at
// most one event and a deferred event holds back the ones behind it. Draining
// stops once a round publishes nothing.
func (r *Relay) runOnce(ctx context.Context) {
	for ctx.Err() == nil {
		if r.cycle(ctx) == 0 {
			return
		}
	}
}

// cycle claims a batch and publishes it, one goroutine per aggregate.
func (r *Relay) cycle(ctx context.Context) int {
	now := r.now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimPendingEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim pending events", "error", err.Error())
		r.setLastError(err)
		return 0
	}
	r.totalClaimed.Add(int64(len(items)))

	var order []string
	groups := make(map[string][]*models.OutboxEvent)
	for _, ev := range items {
		if _, ok := groups[ev.AggregateID]; !ok {
			order = append(order, ev.AggregateID)
		}
		groups[ev.AggregateID] = append(groups[ev.AggregateID], ev)
	}

	var publishedMu sync.Mutex
	var published []string

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, agg := range order {
		group := groups[agg]
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(int64(len(group)))
		go func() {
			defer func() {
				r.inFlight.Add(-int64(len(group)))
				<-sem
				wg.Done()
			}()
			done := r.processGroup(ctx, group)
			publishedMu.Lock()
			published = append(published, done...)
			publishedMu.Unlock()
		}()
	}
	wg.Wait()

	if len(published) == 0 {
		return 0
	}
	if err := r.repo.MarkEventsPublished(ctx, published, r.now().UTC()); err != nil {
		// lease истечёт, события уйдут повторно: консьюмеры дедуплицируют по id
		slog.Error("mark events published", "count", len(published), "error", err.Error())
		r.setLastError(err)
		return 0
	}
	r.totalPublished.Add(int64(len(published)))
	return len(published)
}

// processGroup returns ids published successfully. On the first failure the
// rest of the group is rescheduled together with the failed event.
func (r *Relay) processGroup(ctx context.Context, group []*models.OutboxEvent) []string {
	var done []string
	for i, ev := range group {
		if !r.allow(ctx) {
			r.postpone(ctx, group[i:], r.nextWindow(), "rate limited")
			r.totalDeferred.Add(int64(len(group) - i))
			return done
		}
		if err := r.processOne(ctx, ev); err != nil {
			r.totalErrors.Add(1)
			r.setLastError(err)
			slog.Error("publish outbox event",
				"event_id", ev.ID,
				"type", ev.Type,
				"aggregate_id", ev.AggregateID,
				"attempts", ev.Attempts,
				"error", err.Error(),
			)
			r.postpone(ctx, group[i:], r.now().UTC().Add(r.backoff.Delay(ev.Attempts)), "publish failed")
			return done
		}
		done = append(done, ev.ID)
	}
	return done
}

// allow checks the per-minute budget of the topic. A broken limiter does not stop publishing.
func (r *Relay) allow(ctx context.Context) bool {
	if r.rl == nil || r.rateLimitPerMinute <= 0 {
		return true
	}
	allowed, n, err := r.rl.AllowPublish(ctx, r.topic, r.now().UTC(), r.rateLimitPerMinute)
	if err != nil {
		slog.Warn("rate limiter unavailable", "topic", r.topic, "error", err.Error())
		return true
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "topic", r.topic, "count", n)
	}
	return allowed
}

func (r *Relay) nextWindow() time.Time {
	return r.now().UTC().Truncate(time.Minute).Add(time.Minute)
}

func (r *Relay) postpone(ctx context.Context, evs []*models.OutboxEvent, at time.Time, reason string) {
	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	if err := r.repo.RescheduleEvents(ctx, ids, at); err != nil {
		slog.Error("reschedule events", "count", len(ids), "error", err.Error())
		return
	}
	slog.Debug("events deferred", "count", len(ids), "until", at, "reason", reason)
}

func (r *Relay) processOne(ctx context.Context, ev *models.OutboxEvent) error {
	env := messages.DeskEvent{
		ID:          ev.ID,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		OccurredAt:  ev.OccurredAt,
		Payload:     ev.Payload,
	}

	// Kafka может быть не готова сразу после старта docker compose: короткий retry.
	var pubErr error
	for i := 0; i < r.publishAttempts; i++ {
		if pubErr = r.producer.PublishEvent(ctx, r.topic, env); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * r.publishPause):
		}
	}
	return pubErr
}
