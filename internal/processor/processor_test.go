package processor

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

var testTimestamp = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

var testPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

// MockWebhookTransport is a mock implementation of WebhookTransport
type MockWebhookTransport struct {
	mock.Mock
}

func (m *MockWebhookTransport) Send(ctx context.Context, req *transport.WebhookRequest) (*transport.WebhookResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transport.WebhookResponse), args.Error(1)
}

// MockEmailTransport is a mock implementation of EmailTransport
type MockEmailTransport struct {
	mock.Mock
}

func (m *MockEmailTransport) Send(ctx context.Context, msg *transport.EmailMessage) (*transport.EmailReceipt, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transport.EmailReceipt), args.Error(1)
}

// MockSlackTransport is a mock implementation of SlackTransport
type MockSlackTransport struct {
	mock.Mock
}

func (m *MockSlackTransport) Send(ctx context.Context, msg *transport.SlackMessage) (*transport.SlackResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transport.SlackResponse), args.Error(1)
}

// MockRecipientResolver is a mock implementation of RecipientResolver
type MockRecipientResolver struct {
	mock.Mock
}

func (m *MockRecipientResolver) Resolve(ctx context.Context, orgID string, settings domain.RecipientSettings) ([]domain.ResolvedRecipient, error) {
	args := m.Called(ctx, orgID, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ResolvedRecipient), args.Error(1)
}

// MockAggregator is a mock implementation of Aggregator
type MockAggregator struct {
	mock.Mock
}

func (m *MockAggregator) Add(ctx context.Context, key domain.AggregationKey, entry domain.AggregationEntry) error {
	args := m.Called(ctx, key, entry)
	return args.Error(0)
}

// MockMessagePublisher is a mock implementation of MessagePublisher
type MockMessagePublisher struct {
	mock.Mock
}

func (m *MockMessagePublisher) Publish(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func testEvent() *domain.Event {
	return &domain.Event{
		EventID:         "evt-1",
		OrgID:           "o1",
		BundleName:      "rhel",
		ApplicationName: "advisor",
		EventTypeID:     "new-recommendation",
		Payload:         map[string]interface{}{"msg": "hi"},
		Timestamp:       testTimestamp,
	}
}

func webhookEndpoint(id, url string) domain.Endpoint {
	return domain.Endpoint{
		EndpointID: id,
		OrgID:      "o1",
		Type:       domain.EndpointTypeWebhook,
		Enabled:    true,
		Properties: map[string]interface{}{PropertyURL: url},
	}
}

func emailEndpoint(id string, subscription domain.SubscriptionType) domain.Endpoint {
	return domain.Endpoint{
		EndpointID: id,
		OrgID:      "o1",
		Type:       domain.EndpointTypeEmailSubscription,
		Enabled:    true,
		Recipients: &domain.RecipientSettings{SubscriptionType: subscription},
	}
}

func recipient(id string, addresses ...string) domain.ResolvedRecipient {
	return domain.ResolvedRecipient{UserID: id, Username: id, Addresses: addresses}
}
