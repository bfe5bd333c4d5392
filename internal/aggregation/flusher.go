package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
)

const shutdownFlushTimeout = 30 * time.Second

// Dispatcher delivers an event to endpoints and streams the outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) <-chan domain.NotificationHistory
}

// HistoryWriter persists history records.
type HistoryWriter interface {
	InsertBatch(ctx context.Context, histories []*domain.NotificationHistory) (int, error)
}

// FlushResult summarizes one flush run.
type FlushResult struct {
	Keys      int `json:"keys"`
	Entries   int `json:"entries"`
	Histories int `json:"histories"`
}

// FlusherConfig configures the flusher
type FlusherConfig struct {
	Window   time.Duration
	Interval time.Duration
}

// Flusher drains aggregation keys into digest events and dispatches them to
// the endpoints captured at add time.
type Flusher struct {
	store      Store
	dispatcher Dispatcher
	sink       HistoryWriter
	config     FlusherConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	mu         sync.Mutex
}

func NewFlusher(store Store, dispatcher Dispatcher, sink HistoryWriter, cfg FlusherConfig, m *metrics.Metrics, log *zap.Logger) *Flusher {
	return &Flusher{
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		config:     cfg,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Start flushes due keys on every tick until ctx is done, then runs a final
// forced flush of every key. It returns immediately when no interval is set
// and only runs the final flush once ctx is done.
func (f *Flusher) Start(ctx context.Context) {
	if f.config.Interval > 0 {
		ticker := time.NewTicker(f.config.Interval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if _, err := f.FlushDue(ctx); err != nil {
					f.log.Error("Scheduled aggregation flush failed", zap.Error(err))
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	f.log.Info("Flushing all aggregation keys before shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	result, err := f.FlushAll(shutdownCtx)
	if err != nil {
		f.log.Error("Final aggregation flush failed", zap.Error(err))
		return
	}
	f.log.Info("Final aggregation flush done",
		zap.Int("keys", result.Keys),
		zap.Int("entries", result.Entries))
}

// FlushDue flushes the keys whose window has closed.
func (f *Flusher) FlushDue(ctx context.Context) (FlushResult, error) {
	now := f.now()
	return f.flushMatching(ctx, func(key domain.AggregationKey) bool {
		return !key.Window.Add(f.config.Window).After(now)
	})
}

// FlushAll flushes every key regardless of its window.
func (f *Flusher) FlushAll(ctx context.Context) (FlushResult, error) {
	return f.flushMatching(ctx, func(domain.AggregationKey) bool { return true })
}

// FlushKey flushes a single key.
func (f *Flusher) FlushKey(ctx context.Context, key domain.AggregationKey) (FlushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, histories, err := f.flushKey(ctx, key)
	result := FlushResult{Entries: entries, Histories: histories}
	if entries > 0 {
		result.Keys = 1
	}
	return result, err
}

func (f *Flusher) flushMatching(ctx context.Context, match func(domain.AggregationKey) bool) (FlushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys, err := f.store.Keys(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	var result FlushResult
	var errs []error
	for _, key := range keys {
		if !match(key) {
			continue
		}
		entries, histories, err := f.flushKey(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if entries > 0 {
			result.Keys++
		}
		result.Entries += entries
		result.Histories += histories
	}
	return result, errors.Join(errs...)
}

func (f *Flusher) flushKey(ctx context.Context, key domain.AggregationKey) (int, int, error) {
	payload, err := f.store.Flush(ctx, key)
	if err != nil {
		var consistencyErr *ConsistencyError
		if errors.As(err, &consistencyErr) {
			f.log.Error("Aggregation consistency violated", zap.String("key", key.String()), zap.Error(err))
		}
		return 0, 0, fmt.Errorf("failed to flush key %s: %w", key, err)
	}
	if payload.IsEmpty() {
		return 0, 0, nil
	}
	f.metrics.AggregationFlushes.Inc()

	event := f.digestEvent(payload)
	endpoints := digestEndpoints(payload)

	var histories []*domain.NotificationHistory
	for h := range f.dispatcher.Dispatch(ctx, event, endpoints) {
		history := h
		histories = append(histories, &history)
	}

	f.log.Info("Aggregation flushed",
		zap.String("key", key.String()),
		zap.String("event_id", event.EventID),
		zap.Int("entries", len(payload.Entries)),
		zap.Int("endpoints", len(endpoints)))

	if len(histories) == 0 {
		return len(payload.Entries), 0, nil
	}
	inserted, err := f.sink.InsertBatch(ctx, histories)
	if err != nil {
		// The digest is already sent and the entries are gone from the store,
		// so the log is the only trace left of these deliveries.
		for _, h := range histories {
			f.log.Error("Dropping digest history",
				zap.String("key", key.String()),
				zap.String("event_id", h.EventID),
				zap.String("endpoint_id", h.EndpointID),
				zap.String("status", string(h.Status)),
				zap.Error(err))
		}
		return len(payload.Entries), 0, fmt.Errorf("failed to record digest history for key %s: %w", key, err)
	}
	return len(payload.Entries), inserted, nil
}

// digestEvent builds the aggregation event carrying every entry of the payload.
func (f *Flusher) digestEvent(payload *domain.AggregatedPayload) *domain.Event {
	events := make([]interface{}, 0, len(payload.Entries))
	for _, entry := range payload.Entries {
		events = append(events, map[string]interface{}{
			"event_id":   entry.EventID,
			"event_type": entry.EventTypeID,
			"payload":    entry.Payload,
		})
	}

	return &domain.Event{
		EventID:         uuid.NewString(),
		OrgID:           payload.Key.OrgID,
		BundleName:      domain.AggregationBundle,
		ApplicationName: domain.AggregationApplication,
		EventTypeID:     domain.AggregationEventType,
		Payload: map[string]interface{}{
			"bundle":       payload.Key.BundleName,
			"application":  payload.Key.ApplicationName,
			"window_start": payload.Key.Window.Format(time.RFC3339),
			"events":       events,
		},
		Timestamp: f.now().UTC(),
	}
}

// digestEndpoints returns the distinct endpoints of the payload in first-seen order.
func digestEndpoints(payload *domain.AggregatedPayload) []domain.Endpoint {
	seen := make(map[string]struct{})
	var endpoints []domain.Endpoint
	for _, entry := range payload.Entries {
		if _, ok := seen[entry.Endpoint.EndpointID]; ok {
			continue
		}
		seen[entry.Endpoint.EndpointID] = struct{}{}
		endpoints = append(endpoints, entry.Endpoint)
	}
	return endpoints
}
