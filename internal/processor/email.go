package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/aggregation"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

const (
	OutcomeNoRecipients = "no recipients"
	defaultDigestWindow = 24 * time.Hour
)

// RecipientResolver resolves the users an endpoint delivers to.
type RecipientResolver interface {
	Resolve(ctx context.Context, orgID string, settings domain.RecipientSettings) ([]domain.ResolvedRecipient, error)
}

// Aggregator collects digest entries.
type Aggregator interface {
	Add(ctx context.Context, key domain.AggregationKey, entry domain.AggregationEntry) error
}

// EmailTransport sends one email message.
type EmailTransport interface {
	Send(ctx context.Context, msg *transport.EmailMessage) (*transport.EmailReceipt, error)
}

// EmailConfig configures the email processor
type EmailConfig struct {
	SingleEmailPerUser bool
	Window             time.Duration
	// Resolution bounds the recipient resolution attempts per endpoint.
	Resolution RetryPolicy
}

type EmailProcessor struct {
	base
	transport  EmailTransport
	resolver   RecipientResolver
	aggregator Aggregator
	config     EmailConfig
}

func NewEmailProcessor(t EmailTransport, resolver RecipientResolver, aggregator Aggregator, cfg EmailConfig, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) *EmailProcessor {
	if cfg.Window <= 0 {
		cfg.Window = defaultDigestWindow
	}
	b := newBase("email", policy, m, log)
	b.resolution = cfg.Resolution
	return &EmailProcessor{
		base:       b,
		transport:  t,
		resolver:   resolver,
		aggregator: aggregator,
		config:     cfg,
	}
}

// emailTarget is an endpoint waiting for its messages to be sent.
type emailTarget struct {
	history    *domain.NotificationHistory
	recipients []domain.ResolvedRecipient
	sent       int
	attempts   int
	messageIDs []string
	failures   []map[string]interface{}
	lastErr    error
}

// emailSend is one physical message and the endpoints it serves.
type emailSend struct {
	addresses []string
	targets   []*emailTarget
}

// Process sends instant emails, adds daily subscriptions to the digest store
// and delivers digests built by an aggregation flush.
// BatchesEndpoints makes the engine pass all email endpoints of a dispatch
// together, so a user subscribed through several of them gets one message.
func (p *EmailProcessor) BatchesEndpoints() bool {
	return true
}

func (p *EmailProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	start := p.now()
	defer p.observe(start)

	results := make([]*domain.NotificationHistory, len(endpoints))
	var targets []*emailTarget

	for i := range endpoints {
		endpoint := &endpoints[i]
		settings := endpoint.Settings()

		if !event.IsAggregation() && settings.SubscriptionType == domain.SubscriptionDaily {
			results[i] = p.aggregate(ctx, event, endpoint)
			continue
		}

		history := domain.NewHistory(event, endpoint, p.now())
		results[i] = history

		recipients, err := p.resolveRecipients(ctx, p.resolver, event, settings, history)
		if err != nil {
			history.Details["reason"] = ReasonRecipientResolution
			history.Details["error_message"] = err.Error()
			history.Finish(domain.StatusFailedInternal, p.now())
			p.log.Warn("Recipient resolution failed",
				zap.String("event_id", event.EventID),
				zap.String("endpoint_id", endpoint.EndpointID),
				zap.Error(err))
			continue
		}

		recipients = addressable(recipients)
		if len(recipients) == 0 {
			history.Details["outcome"] = OutcomeNoRecipients
			history.Finish(domain.StatusSuccess, p.now())
			continue
		}

		targets = append(targets, &emailTarget{history: history, recipients: recipients})
	}

	if len(targets) > 0 {
		p.deliver(ctx, event, targets)
	}

	histories := make([]domain.NotificationHistory, 0, len(results))
	for _, h := range results {
		if h != nil {
			histories = append(histories, *h)
		}
	}
	return histories
}

// aggregate adds the event to the digest of the endpoint. It returns nil
// when the endpoint was deferred.
func (p *EmailProcessor) aggregate(ctx context.Context, event *domain.Event, endpoint *domain.Endpoint) *domain.NotificationHistory {
	key := domain.NewAggregationKey(event, p.config.Window)
	err := p.aggregator.Add(ctx, key, domain.AggregationEntry{
		EventID:     event.EventID,
		EventTypeID: event.EventTypeID,
		Endpoint:    *endpoint,
		Payload:     event.Payload,
		AddedAt:     p.now(),
	})
	if err == nil {
		p.metrics.AggregationAdds.Inc()
		p.log.Debug("Event added to digest",
			zap.String("event_id", event.EventID),
			zap.String("endpoint_id", endpoint.EndpointID),
			zap.String("key", key.String()))
		return nil
	}

	history := domain.NewHistory(event, endpoint, p.now())
	history.Details["error_message"] = err.Error()

	var consistencyErr *aggregation.ConsistencyError
	if errors.As(err, &consistencyErr) {
		history.Details["reason"] = ReasonAggregationConsistency
		p.log.Error("Aggregation consistency violated",
			zap.String("event_id", event.EventID),
			zap.String("key", key.String()),
			zap.Error(err))
	} else {
		history.Details["reason"] = ReasonInternal
		p.log.Error("Failed to add event to digest",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
	return history.Finish(domain.StatusFailedInternal, p.now())
}

func (p *EmailProcessor) deliver(ctx context.Context, event *domain.Event, targets []*emailTarget) {
	subject, body := renderEmail(event)

	for _, send := range p.plan(targets) {
		var receipt *transport.EmailReceipt
		fields := []zap.Field{zap.String("event_id", event.EventID), zap.Int("address_count", len(send.addresses))}
		attempts, err := p.retry(ctx, fields, func(ctx context.Context) error {
			var err error
			receipt, err = p.send(ctx, &transport.EmailMessage{
				Recipients: send.addresses,
				Subject:    subject,
				Body:       body,
			})
			return err
		})

		for _, target := range send.targets {
			target.attempts += attempts
			if err != nil {
				target.lastErr = err
				target.failures = append(target.failures, map[string]interface{}{
					"addresses": send.addresses,
					"error":     err.Error(),
				})
				continue
			}
			target.sent++
			target.messageIDs = append(target.messageIDs, receipt.MessageID)
		}
	}

	for _, target := range targets {
		h := target.history
		h.Details["recipients"] = len(target.recipients)
		h.Details["sent"] = target.sent
		h.Details["failed"] = len(target.failures)
		h.Details["attempts"] = target.attempts
		if len(target.messageIDs) > 0 {
			h.Details["message_ids"] = target.messageIDs
		}
		if target.lastErr == nil {
			h.Finish(domain.StatusSuccess, p.now())
			continue
		}
		h.Details["failures"] = target.failures
		h.Finish(transportFailure(h, target.lastErr), p.now())
	}
}

// plan groups recipients into physical messages. With one email per user,
// every distinct address gets exactly one message even when it subscribes
// through several endpoints. Otherwise each (endpoint, recipient) pair gets
// its own message.
func (p *EmailProcessor) plan(targets []*emailTarget) []*emailSend {
	var sends []*emailSend

	if !p.config.SingleEmailPerUser {
		for _, target := range targets {
			for _, r := range target.recipients {
				sends = append(sends, &emailSend{addresses: r.Addresses, targets: []*emailTarget{target}})
			}
		}
		return sends
	}

	byAddress := make(map[string]*emailSend)
	for _, target := range targets {
		for _, r := range target.recipients {
			for _, addr := range r.Addresses {
				send, ok := byAddress[addr]
				if !ok {
					send = &emailSend{addresses: []string{addr}}
					byAddress[addr] = send
					sends = append(sends, send)
				}
				if len(send.targets) == 0 || send.targets[len(send.targets)-1] != target {
					send.targets = append(send.targets, target)
				}
			}
		}
	}
	return sends
}

func (p *EmailProcessor) send(ctx context.Context, msg *transport.EmailMessage) (*transport.EmailReceipt, error) {
	receipt, err := p.transport.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, transport.ErrInvalidRequest) {
			return nil, err
		}
		return nil, &TransportError{Retryable: true, Err: err}
	}
	if !receipt.Accepted {
		return nil, &TransportError{Err: fmt.Errorf("message %s rejected", receipt.MessageID)}
	}
	return receipt, nil
}

func addressable(recipients []domain.ResolvedRecipient) []domain.ResolvedRecipient {
	out := recipients[:0:0]
	for _, r := range recipients {
		if len(r.Addresses) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// renderEmail builds a plain subject and HTML body. Digest events list the
// aggregated entries.
func renderEmail(event *domain.Event) (string, string) {
	if event.IsAggregation() {
		bundle, _ := event.Payload["bundle"].(string)
		application, _ := event.Payload["application"].(string)
		events, _ := event.Payload["events"].([]interface{})
		subject := fmt.Sprintf("Daily digest - %s/%s", bundle, application)
		return subject, fmt.Sprintf("<html><body><h1>%s</h1><p>%d events</p><pre>%s</pre></body></html>",
			html.EscapeString(subject), len(events), html.EscapeString(prettyJSON(events)))
	}

	subject := fmt.Sprintf("[%s/%s] %s", event.BundleName, event.ApplicationName, event.EventTypeID)
	return subject, fmt.Sprintf("<html><body><h1>%s</h1><pre>%s</pre></body></html>",
		html.EscapeString(subject), html.EscapeString(prettyJSON(event.Payload)))
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
