package consumer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/payload"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository"
)

// DispatchStage resolves the target endpoints of each event, dispatches it
// and attaches the resulting history records to the envelope
type DispatchStage struct {
	dispatcher  EventDispatcher
	endpoints   repository.EndpointRepository
	fetcher     payload.Fetcher
	concurrency int
	log         *zap.Logger
}

// NewDispatchStage creates a new dispatch stage. fetcher may be nil when no
// payload store is configured.
func NewDispatchStage(dispatcher EventDispatcher, endpoints repository.EndpointRepository, fetcher payload.Fetcher, concurrency int, log *zap.Logger) *DispatchStage {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DispatchStage{
		dispatcher:  dispatcher,
		endpoints:   endpoints,
		fetcher:     fetcher,
		concurrency: concurrency,
		log:         log,
	}
}

// Start runs the configured number of dispatch workers until in is closed or
// ctx is done, then closes out
func (s *DispatchStage) Start(ctx context.Context, in <-chan *Envelope, out chan<- *Envelope) {
	defer close(out)

	var wg sync.WaitGroup
	wg.Add(s.concurrency)
	for i := 0; i < s.concurrency; i++ {
		go func() {
			defer wg.Done()
			s.work(ctx, in, out)
		}()
	}
	wg.Wait()

	s.log.Info("Dispatch stage stopped")
}

func (s *DispatchStage) work(ctx context.Context, in <-chan *Envelope, out chan<- *Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-in:
			if !ok {
				return
			}

			if !s.dispatch(ctx, envelope) {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// dispatch reports whether the envelope should continue to the writer. An
// envelope that cannot be dispatched is acked or nacked here.
func (s *DispatchStage) dispatch(ctx context.Context, envelope *Envelope) bool {
	event := envelope.Event
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("org_id", event.OrgID),
		zap.String("bundle", event.BundleName),
		zap.String("application", event.ApplicationName),
		zap.String("event_type", event.EventTypeID),
	}

	if err := payload.Hydrate(ctx, s.fetcher, event); err != nil {
		if errors.Is(err, payload.ErrNotFound) {
			s.log.Warn("Dropping event with missing payload", append(fields, zap.Error(err))...)
			s.settle(ctx, envelope, envelope.Ack)
			return false
		}
		s.log.Error("Failed to fetch event payload", append(fields, zap.Error(err))...)
		s.settle(ctx, envelope, envelope.Nack)
		return false
	}

	endpoints, err := s.endpoints.TargetEndpoints(ctx, event)
	if err != nil {
		s.log.Error("Failed to load target endpoints", append(fields, zap.Error(err))...)
		s.settle(ctx, envelope, envelope.Nack)
		return false
	}

	for history := range s.dispatcher.Dispatch(ctx, event, endpoints) {
		envelope.Histories = append(envelope.Histories, &history)
	}

	s.log.Info("Event dispatched", append(fields,
		zap.Int("endpoint_count", len(endpoints)),
		zap.Int("history_count", len(envelope.Histories)))...)

	return true
}

func (s *DispatchStage) settle(ctx context.Context, envelope *Envelope, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		s.log.Error("Failed to settle message",
			zap.String("event_id", envelope.Event.EventID),
			zap.Error(err))
	}
}
