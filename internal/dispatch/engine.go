package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/processor"
)

const (
	OutcomeAggregated  = "aggregated"
	SkippedEmailsOnly  = "emails only mode"
	SkippedDisabled    = "endpoint disabled"
	defaultWorkerCount = 16
)

// Options configures the engine
type Options struct {
	// Workers bounds the endpoints processed at once across all dispatch calls.
	Workers int
	// TypeCeilings bounds the endpoints of one type processed at once.
	TypeCeilings map[string]int
	// Timeout is the deadline applied to dispatch calls whose context has none.
	Timeout        time.Duration
	EmailsOnlyMode bool
}

// OptionsFromConfig converts the dispatch configuration.
func OptionsFromConfig(cfg config.Dispatch) Options {
	return Options{
		Workers:        cfg.Workers,
		TypeCeilings:   cfg.TypeCeilings,
		Timeout:        cfg.Timeout,
		EmailsOnlyMode: cfg.EmailsOnlyMode,
	}
}

// Engine fans an event out to the processors of its endpoints.
type Engine struct {
	registry *Registry
	workers  *semaphore.Weighted
	ceilings map[domain.EndpointType]*semaphore.Weighted
	options  Options
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(registry *Registry, opts Options, m *metrics.Metrics, log *zap.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkerCount
	}

	ceilings := make(map[domain.EndpointType]*semaphore.Weighted, len(opts.TypeCeilings))
	for endpointType, limit := range opts.TypeCeilings {
		if limit > 0 {
			ceilings[domain.EndpointType(endpointType)] = semaphore.NewWeighted(int64(limit))
		}
	}

	return &Engine{
		registry: registry,
		workers:  semaphore.NewWeighted(int64(opts.Workers)),
		ceilings: ceilings,
		options:  opts,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// task is one Process call: a single endpoint, or every endpoint of one type
// when the processor batches endpoints.
type task struct {
	proc         processor.Processor
	endpointType domain.EndpointType
	endpoints    []*domain.Endpoint
}

type batchKey struct {
	proc         processor.Processor
	endpointType domain.EndpointType
}

// Dispatch processes every endpoint and streams the resulting history
// records. The channel is closed once all endpoints are done. Records of one
// endpoint are contiguous; records of different endpoints may interleave in
// completion order. Every endpoint yields at least one record and no error
// escapes: failures are reported as FAILED_* records. The caller must drain
// the channel.
func (e *Engine) Dispatch(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) <-chan domain.NotificationHistory {
	out := make(chan domain.NotificationHistory, len(endpoints))
	e.metrics.EventsDispatched.Inc()

	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok && e.options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.options.Timeout)
	}

	go func() {
		defer close(out)
		defer cancel()

		var emitMu sync.Mutex
		emit := func(endpoint *domain.Endpoint, records []domain.NotificationHistory) {
			emitMu.Lock()
			defer emitMu.Unlock()
			for _, record := range records {
				e.metrics.EndpointsProcessed.WithLabelValues(string(endpoint.Type), string(record.Status)).Inc()
				out <- record
			}
		}

		tasks := e.plan(event, endpoints, emit)

		var wg sync.WaitGroup
		for i, t := range tasks {
			if err := e.workers.Acquire(ctx, 1); err != nil {
				for _, rest := range tasks[i:] {
					e.abandon(event, rest, err, emit)
				}
				break
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer e.workers.Release(1)
				e.run(ctx, event, t, emit)
			}()
		}
		wg.Wait()

		e.log.Debug("Dispatch completed",
			zap.String("event_id", event.EventID),
			zap.Int("endpoint_count", len(endpoints)),
			zap.Int("task_count", len(tasks)))
	}()

	return out
}

// plan settles the endpoints that need no processor and groups the others
// into tasks, keeping the order in which endpoints were given.
func (e *Engine) plan(event *domain.Event, endpoints []domain.Endpoint, emit func(*domain.Endpoint, []domain.NotificationHistory)) []*task {
	var tasks []*task
	batches := make(map[batchKey]*task)

	for i := range endpoints {
		endpoint := &endpoints[i]

		if record, settled := e.settle(event, endpoint); settled {
			emit(endpoint, []domain.NotificationHistory{record})
			continue
		}

		proc, err := e.registry.Lookup(endpoint)
		if err != nil {
			e.log.Warn("No processor for endpoint",
				zap.String("event_id", event.EventID),
				zap.String("endpoint_id", endpoint.EndpointID),
				zap.String("endpoint_type", string(endpoint.Type)))
			emit(endpoint, []domain.NotificationHistory{
				e.failed(event, endpoint, processor.ReasonUnsupportedChannelType, err.Error()),
			})
			continue
		}

		if batcher, ok := proc.(processor.EndpointBatcher); ok && batcher.BatchesEndpoints() {
			key := batchKey{proc: proc, endpointType: endpoint.Type}
			if t, ok := batches[key]; ok {
				t.endpoints = append(t.endpoints, endpoint)
				continue
			}
			t := &task{proc: proc, endpointType: endpoint.Type, endpoints: []*domain.Endpoint{endpoint}}
			batches[key] = t
			tasks = append(tasks, t)
			continue
		}

		tasks = append(tasks, &task{proc: proc, endpointType: endpoint.Type, endpoints: []*domain.Endpoint{endpoint}})
	}
	return tasks
}

// settle returns the record of an endpoint that is not handed to a processor.
func (e *Engine) settle(event *domain.Event, endpoint *domain.Endpoint) (domain.NotificationHistory, bool) {
	if !endpoint.Enabled {
		return e.skipped(event, endpoint, SkippedDisabled), true
	}
	if e.options.EmailsOnlyMode && endpoint.Type != domain.EndpointTypeEmailSubscription {
		return e.skipped(event, endpoint, SkippedEmailsOnly), true
	}
	if endpoint.ConfigError != "" {
		e.log.Warn("Endpoint configuration is invalid",
			zap.String("event_id", event.EventID),
			zap.String("endpoint_id", endpoint.EndpointID),
			zap.String("error", endpoint.ConfigError))
		return e.failed(event, endpoint, processor.ReasonInternal, endpoint.ConfigError), true
	}
	return domain.NotificationHistory{}, false
}

func (e *Engine) run(ctx context.Context, event *domain.Event, t *task, emit func(*domain.Endpoint, []domain.NotificationHistory)) {
	if err := ctx.Err(); err != nil {
		e.abandon(event, t, err, emit)
		return
	}
	if ceiling, ok := e.ceilings[t.endpointType]; ok {
		if err := ceiling.Acquire(ctx, 1); err != nil {
			e.abandon(event, t, err, emit)
			return
		}
		defer ceiling.Release(1)
	}

	records := e.invoke(ctx, t.proc, event, t.endpoints)

	owned := make(map[string][]domain.NotificationHistory, len(t.endpoints))
	for _, endpoint := range t.endpoints {
		owned[endpoint.EndpointID] = nil
	}
	for _, record := range records {
		if _, ok := owned[record.EndpointID]; !ok {
			e.log.Warn("Dropping history of a foreign endpoint",
				zap.String("event_id", event.EventID),
				zap.String("foreign_endpoint_id", record.EndpointID))
			continue
		}
		owned[record.EndpointID] = append(owned[record.EndpointID], record)
	}

	for _, endpoint := range t.endpoints {
		kept, ok := owned[endpoint.EndpointID]
		if !ok {
			// Already emitted for an earlier copy of the same endpoint.
			continue
		}
		delete(owned, endpoint.EndpointID)

		if len(kept) == 0 {
			// The processor deferred the endpoint, e.g. into a digest.
			h := domain.NewHistory(event, endpoint, e.now())
			h.Details["outcome"] = OutcomeAggregated
			kept = []domain.NotificationHistory{*h.Finish(domain.StatusSuccess, e.now())}
		}
		emit(endpoint, kept)
	}
}

// invoke runs the processor and turns a panic into one FAILED_INTERNAL record
// per endpoint.
func (e *Engine) invoke(ctx context.Context, proc processor.Processor, event *domain.Event, endpoints []*domain.Endpoint) (records []domain.NotificationHistory) {
	invokedAt := e.now()
	defer func() {
		if r := recover(); r != nil {
			records = make([]domain.NotificationHistory, 0, len(endpoints))
			for _, endpoint := range endpoints {
				e.log.Error("Processor panicked",
					zap.String("event_id", event.EventID),
					zap.String("endpoint_id", endpoint.EndpointID),
					zap.Any("panic", r))
				h := domain.NewHistory(event, endpoint, invokedAt)
				h.Details["reason"] = processor.ReasonInternal
				h.Details["error_message"] = fmt.Sprintf("processor panic: %v", r)
				records = append(records, *h.Finish(domain.StatusFailedInternal, e.now()))
			}
		}
	}()

	batch := make([]domain.Endpoint, len(endpoints))
	for i, endpoint := range endpoints {
		batch[i] = *endpoint
	}
	return proc.Process(ctx, event, batch)
}

func (e *Engine) abandon(event *domain.Event, t *task, cause error, emit func(*domain.Endpoint, []domain.NotificationHistory)) {
	for _, endpoint := range t.endpoints {
		emit(endpoint, []domain.NotificationHistory{
			e.failed(event, endpoint, processor.ReasonDeadlineExceeded, cause.Error()),
		})
	}
}

func (e *Engine) failed(event *domain.Event, endpoint *domain.Endpoint, reason, message string) domain.NotificationHistory {
	h := domain.NewHistory(event, endpoint, e.now())
	h.Details["reason"] = reason
	h.Details["error_message"] = message
	return *h.Finish(domain.StatusFailedInternal, e.now())
}

func (e *Engine) skipped(event *domain.Event, endpoint *domain.Endpoint, why string) domain.NotificationHistory {
	h := domain.NewHistory(event, endpoint, e.now())
	h.Details["skipped"] = why
	return *h.Finish(domain.StatusSuccess, e.now())
}
