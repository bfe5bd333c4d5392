package processor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
)

// Processor delivers one event to endpoints of a single channel type.
// It returns the history records it produced. An endpoint without a record
// was deferred, e.g. added to a digest.
type Processor interface {
	Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory
}

// EndpointBatcher is implemented by processors that want every endpoint of
// their type in a single Process call.
type EndpointBatcher interface {
	BatchesEndpoints() bool
}

// RetryPolicy bounds the transport attempts of a processor.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewRetryPolicy converts the webhook configuration into a retry policy.
func NewRetryPolicy(cfg config.Webhook) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// NewResolutionPolicy bounds the recipient resolution attempts of one endpoint.
func NewResolutionPolicy(cfg config.Recipients) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// base holds what every channel processor shares.
type base struct {
	channel    string
	policy     RetryPolicy
	resolution RetryPolicy
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func newBase(channel string, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) base {
	return base{
		channel:    channel,
		policy:     policy,
		resolution: RetryPolicy{MaxAttempts: 1},
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// retry runs a transport call under the processor policy.
func (b *base) retry(ctx context.Context, fields []zap.Field, op func(ctx context.Context) error) (int, error) {
	return b.retryWith(ctx, b.policy, IsRetryable, fields, op)
}

// retryWith runs op until it succeeds, fails permanently or the attempt
// ceiling of policy is reached. It returns the number of attempts made and
// the last error.
func (b *base) retryWith(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fields []zap.Field, op func(ctx context.Context) error) (int, error) {
	exp := backoff.NewExponentialBackOff()
	if policy.InitialBackoff > 0 {
		exp.InitialInterval = policy.InitialBackoff
	}
	if policy.MaxBackoff > 0 {
		exp.MaxInterval = policy.MaxBackoff
	}

	attempts := 0
	var lastErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if attempts > 1 {
			b.metrics.ProcessorRetries.WithLabelValues(b.channel).Inc()
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return struct{}{}, nil
		}
		if !retryable(lastErr) {
			return struct{}{}, backoff.Permanent(lastErr)
		}

		b.log.Warn("Retryable failure",
			append(fields, zap.Int("attempt", attempts), zap.Error(lastErr))...)
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(policy.maxAttempts())),
	)

	if err != nil && lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Keep the transport failure rather than the cancellation of the wait.
		return attempts, lastErr
	}
	return attempts, err
}

// resolveRecipients resolves the recipients of one endpoint, retrying
// resolution failures under the resolution policy. The identity client makes
// a single call per attempt. Digest events resolve daily subscribers.
func (b *base) resolveRecipients(ctx context.Context, resolver RecipientResolver, event *domain.Event, settings domain.RecipientSettings, history *domain.NotificationHistory) ([]domain.ResolvedRecipient, error) {
	if event.IsAggregation() {
		settings.SubscriptionType = domain.SubscriptionDaily
		settings.EventTypeID = ""
	} else if settings.EventTypeID == "" {
		settings.EventTypeID = event.EventTypeID
	}

	var recipients []domain.ResolvedRecipient
	fields := []zap.Field{zap.String("event_id", event.EventID), zap.String("endpoint_id", history.EndpointID)}
	attempts, err := b.retryWith(ctx, b.resolution, isResolutionError, fields, func(ctx context.Context) error {
		var err error
		recipients, err = resolver.Resolve(ctx, event.OrgID, settings)
		return err
	})
	if attempts > 1 {
		history.Details["resolution_attempts"] = attempts
	}
	return recipients, err
}

// observe records how long a processor spent on one endpoint batch.
func (b *base) observe(start time.Time) {
	b.metrics.ProcessorDuration.WithLabelValues(b.channel).Observe(b.now().Sub(start).Seconds())
}

// transportFailure fills history details from a failed transport call and
// returns the status to record.
func transportFailure(history *domain.NotificationHistory, err error) domain.NotificationStatus {
	var te *TransportError
	if errors.As(err, &te) {
		history.Details["reason"] = ReasonChannelTransport
		if te.StatusCode != 0 {
			history.Details["code"] = te.StatusCode
		}
		if te.Body != "" {
			history.Details["response_body"] = te.Body
		}
		history.Details["error_message"] = err.Error()
		return domain.StatusFailedExternal
	}

	history.Details["reason"] = ReasonInternal
	history.Details["error_message"] = err.Error()
	return domain.StatusFailedInternal
}
