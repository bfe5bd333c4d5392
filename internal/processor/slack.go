package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

const PropertyChannel = "channel"

// SlackTransport posts one message to Slack.
type SlackTransport interface {
	Send(ctx context.Context, msg *transport.SlackMessage) (*transport.SlackResponse, error)
}

// SlackProcessor serves CAMEL endpoints with the slack sub-type.
type SlackProcessor struct {
	base
	transport SlackTransport
}

func NewSlackProcessor(t SlackTransport, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) *SlackProcessor {
	return &SlackProcessor{
		base:      newBase("slack", policy, m, log),
		transport: t,
	}
}

func (p *SlackProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	histories := make([]domain.NotificationHistory, 0, len(endpoints))
	for i := range endpoints {
		histories = append(histories, *p.processEndpoint(ctx, event, &endpoints[i]))
	}
	return histories
}

func (p *SlackProcessor) processEndpoint(ctx context.Context, event *domain.Event, endpoint *domain.Endpoint) *domain.NotificationHistory {
	start := p.now()
	defer p.observe(start)

	history := domain.NewHistory(event, endpoint, start)
	msg := &transport.SlackMessage{
		WebhookURL: endpoint.StringProperty(PropertyURL),
		Channel:    endpoint.StringProperty(PropertyChannel),
		Text:       slackText(event),
	}
	if msg.Channel != "" {
		history.Details["channel"] = msg.Channel
	}

	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("endpoint_id", endpoint.EndpointID),
	}
	attempts, err := p.retry(ctx, fields, func(ctx context.Context) error {
		resp, err := p.transport.Send(ctx, msg)
		if err != nil {
			if errors.Is(err, transport.ErrInvalidRequest) {
				return err
			}
			return &TransportError{Retryable: true, Err: err}
		}
		if resp.OK {
			return nil
		}
		if statusErr := StatusError(resp.StatusCode, resp.Body); statusErr != nil {
			return statusErr
		}
		return &TransportError{StatusCode: resp.StatusCode, Body: resp.Body, Err: errors.New("slack rejected the message")}
	})
	history.Details["attempts"] = attempts

	if err != nil {
		status := transportFailure(history, err)
		p.log.Info("Slack delivery failed",
			append(fields, zap.String("status", string(status)), zap.Error(err))...)
		return history.Finish(status, p.now())
	}
	return history.Finish(domain.StatusSuccess, p.now())
}

func slackText(event *domain.Event) string {
	text := fmt.Sprintf("[%s/%s] %s", event.BundleName, event.ApplicationName, event.EventTypeID)
	if len(event.Payload) > 0 {
		text += "\n```" + prettyJSON(event.Payload) + "```"
	}
	return text
}
