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

// DrawerProcessor publishes in-app drawer notifications for the resolved users.
type DrawerProcessor struct {
	base
	publisher MessagePublisher
	resolver  RecipientResolver
}

// NewDrawerProcessor creates a drawer processor. resolution bounds the
// recipient resolution attempts per endpoint.
func NewDrawerProcessor(publisher MessagePublisher, resolver RecipientResolver, policy, resolution RetryPolicy, m *metrics.Metrics, log *zap.Logger) *DrawerProcessor {
	b := newBase("drawer", policy, m, log)
	b.resolution = resolution
	return &DrawerProcessor{
		base:      b,
		publisher: publisher,
		resolver:  resolver,
	}
}

type drawerMessage struct {
	ID          string                 `json:"id"`
	OrgID       string                 `json:"org_id"`
	EventID     string                 `json:"event_id"`
	Bundle      string                 `json:"bundle"`
	Application string                 `json:"application"`
	EventType   string                 `json:"event_type"`
	Usernames   []string               `json:"usernames"`
	Payload     map[string]interface{} `json:"payload"`
	Created     time.Time              `json:"created"`
}

func (p *DrawerProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	histories := make([]domain.NotificationHistory, 0, len(endpoints))
	for i := range endpoints {
		histories = append(histories, *p.processEndpoint(ctx, event, &endpoints[i]))
	}
	return histories
}

func (p *DrawerProcessor) processEndpoint(ctx context.Context, event *domain.Event, endpoint *domain.Endpoint) *domain.NotificationHistory {
	start := p.now()
	defer p.observe(start)

	history := domain.NewHistory(event, endpoint, start)

	settings := endpoint.Settings()
	settings.SubscriptionType = domain.SubscriptionInstant
	recipients, err := p.resolveRecipients(ctx, p.resolver, event, settings, history)
	if err != nil {
		history.Details["reason"] = ReasonRecipientResolution
		history.Details["error_message"] = err.Error()
		return history.Finish(domain.StatusFailedInternal, p.now())
	}
	if len(recipients) == 0 {
		history.Details["outcome"] = OutcomeNoRecipients
		return history.Finish(domain.StatusSuccess, p.now())
	}

	usernames := make([]string, 0, len(recipients))
	for _, r := range recipients {
		usernames = append(usernames, r.Username)
	}
	history.Details["recipients"] = len(usernames)

	value, err := json.Marshal(drawerMessage{
		ID:          history.ID.String(),
		OrgID:       event.OrgID,
		EventID:     event.EventID,
		Bundle:      event.BundleName,
		Application: event.ApplicationName,
		EventType:   event.EventTypeID,
		Usernames:   usernames,
		Payload:     event.Payload,
		Created:     start.UTC(),
	})
	if err != nil {
		history.Details["reason"] = ReasonInternal
		history.Details["error_message"] = fmt.Sprintf("failed to marshal drawer message: %v", err)
		return history.Finish(domain.StatusFailedInternal, p.now())
	}

	p.publish(ctx, p.publisher, event, history, event.OrgID, value)
	return history
}
