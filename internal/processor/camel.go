package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
)

// MessagePublisher publishes a keyed message to a broker topic.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// CamelProcessor forwards CAMEL endpoints of any sub-type without a dedicated
// processor to the connector topic.
type CamelProcessor struct {
	base
	publisher MessagePublisher
}

func NewCamelProcessor(publisher MessagePublisher, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) *CamelProcessor {
	return &CamelProcessor{
		base:      newBase("camel", policy, m, log),
		publisher: publisher,
	}
}

type camelMessage struct {
	OrgID      string                 `json:"org_id"`
	EndpointID string                 `json:"endpoint_id"`
	SubType    string                 `json:"sub_type"`
	HistoryID  string                 `json:"notification_history_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Event      camelEvent             `json:"event"`
}

type camelEvent struct {
	ID          string                 `json:"id"`
	Bundle      string                 `json:"bundle"`
	Application string                 `json:"application"`
	EventType   string                 `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload"`
}

func (p *CamelProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	histories := make([]domain.NotificationHistory, 0, len(endpoints))
	for i := range endpoints {
		histories = append(histories, *p.processEndpoint(ctx, event, &endpoints[i]))
	}
	return histories
}

func (p *CamelProcessor) processEndpoint(ctx context.Context, event *domain.Event, endpoint *domain.Endpoint) *domain.NotificationHistory {
	start := p.now()
	defer p.observe(start)

	history := domain.NewHistory(event, endpoint, start)

	value, err := json.Marshal(camelMessage{
		OrgID:      event.OrgID,
		EndpointID: endpoint.EndpointID,
		SubType:    endpoint.SubType,
		HistoryID:  history.ID.String(),
		Properties: endpoint.Properties,
		Event: camelEvent{
			ID:          event.EventID,
			Bundle:      event.BundleName,
			Application: event.ApplicationName,
			EventType:   event.EventTypeID,
			Timestamp:   event.Timestamp,
			Payload:     event.Payload,
		},
	})
	if err != nil {
		history.Details["reason"] = ReasonInternal
		history.Details["error_message"] = fmt.Sprintf("failed to marshal camel message: %v", err)
		return history.Finish(domain.StatusFailedInternal, p.now())
	}

	p.publish(ctx, p.publisher, event, history, endpoint.EndpointID, value)
	return history
}

// publish sends value with retries and finishes the history accordingly.
func (b *base) publish(ctx context.Context, publisher MessagePublisher, event *domain.Event, history *domain.NotificationHistory, key string, value []byte) {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("endpoint_id", history.EndpointID),
	}
	attempts, err := b.retry(ctx, fields, func(ctx context.Context) error {
		if err := publisher.Publish(ctx, key, value); err != nil {
			return &TransportError{Retryable: true, Err: err}
		}
		return nil
	})
	history.Details["attempts"] = attempts

	if err != nil {
		status := transportFailure(history, err)
		b.log.Info("Publish failed",
			append(fields, zap.String("channel", b.channel), zap.Error(err))...)
		history.Finish(status, b.now())
		return
	}
	history.Finish(domain.StatusSuccess, b.now())
}
