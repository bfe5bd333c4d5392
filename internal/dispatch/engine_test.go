package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/processor"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

var testTimestamp = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// MockProcessor is a mock implementation of processor.Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	args := m.Called(ctx, event, endpoints)
	if fn, ok := args.Get(0).(func([]domain.Endpoint) []domain.NotificationHistory); ok {
		return fn(endpoints)
	}
	return args.Get(0).([]domain.NotificationHistory)
}

// batchingProcessor is a MockProcessor that asks for all endpoints of its
// type at once.
type batchingProcessor struct {
	MockProcessor
}

func (b *batchingProcessor) BatchesEndpoints() bool {
	return true
}

// MockWebhookTransport is a mock implementation of processor.WebhookTransport
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

// MockEmailTransport is a mock implementation of processor.EmailTransport
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

// MockRecipientResolver is a mock implementation of processor.RecipientResolver
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

func endpoint(id string, endpointType domain.EndpointType) domain.Endpoint {
	return domain.Endpoint{
		EndpointID: id,
		OrgID:      "o1",
		Type:       endpointType,
		Enabled:    true,
		Properties: map[string]interface{}{processor.PropertyURL: "https://hooks.example.com/" + id},
	}
}

// succeed returns one SUCCESS record per endpoint.
func succeed(endpoints []domain.Endpoint) []domain.NotificationHistory {
	out := make([]domain.NotificationHistory, 0, len(endpoints))
	for i := range endpoints {
		h := domain.NewHistory(testEvent(), &endpoints[i], testTimestamp)
		out = append(out, *h.Finish(domain.StatusSuccess, testTimestamp))
	}
	return out
}

func collect(ch <-chan domain.NotificationHistory) []domain.NotificationHistory {
	var out []domain.NotificationHistory
	for h := range ch {
		out = append(out, h)
	}
	return out
}

func byEndpoint(histories []domain.NotificationHistory) map[string]domain.NotificationHistory {
	out := make(map[string]domain.NotificationHistory, len(histories))
	for _, h := range histories {
		out[h.EndpointID] = h
	}
	return out
}

func newTestEngine(registry *Registry, opts Options) *Engine {
	return NewEngine(registry, opts, metrics.NewNop(), zap.NewNop())
}

var fastPolicy = processor.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestEngine_Dispatch_WebhookSuccess(t *testing.T) {
	webhookTransport := new(MockWebhookTransport)
	webhookTransport.On("Send", mock.Anything, mock.Anything).Return(&transport.WebhookResponse{StatusCode: 200}, nil)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook,
		processor.NewWebhookProcessor(webhookTransport, fastPolicy, metrics.NewNop(), zap.NewNop()))
	engine := newTestEngine(registry, Options{Workers: 4})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-1", domain.EndpointTypeWebhook),
	}))

	require.Len(t, histories, 1)
	assert.Equal(t, domain.StatusSuccess, histories[0].Status)
	assert.Equal(t, "ep-1", histories[0].EndpointID)
}

func TestEngine_Dispatch_EmailNoRecipients(t *testing.T) {
	emailTransport := new(MockEmailTransport)
	resolver := new(MockRecipientResolver)
	resolver.On("Resolve", mock.Anything, "o1", mock.Anything).Return([]domain.ResolvedRecipient{}, nil)

	registry := NewRegistry().Register(domain.EndpointTypeEmailSubscription,
		processor.NewEmailProcessor(emailTransport, resolver, nil, processor.EmailConfig{SingleEmailPerUser: true},
			fastPolicy, metrics.NewNop(), zap.NewNop()))
	engine := newTestEngine(registry, Options{Workers: 4})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-email", domain.EndpointTypeEmailSubscription),
	}))

	require.Len(t, histories, 1)
	assert.Equal(t, domain.StatusSuccess, histories[0].Status)
	assert.Equal(t, processor.OutcomeNoRecipients, histories[0].Details["outcome"])
	emailTransport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestEngine_Dispatch_UnsupportedTypeIsIsolated(t *testing.T) {
	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 4})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-unknown", domain.EndpointType("UNKNOWN")),
		endpoint("ep-1", domain.EndpointTypeWebhook),
	}))

	require.Len(t, histories, 2)
	records := byEndpoint(histories)
	assert.Equal(t, domain.StatusFailedInternal, records["ep-unknown"].Status)
	assert.Equal(t, processor.ReasonUnsupportedChannelType, records["ep-unknown"].Details["reason"])
	assert.Equal(t, domain.StatusSuccess, records["ep-1"].Status)
}

func TestEngine_Dispatch_SubTypeRouting(t *testing.T) {
	slack := new(MockProcessor)
	slack.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed).Once()
	camel := new(MockProcessor)
	camel.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed).Once()

	registry := NewRegistry().
		Register(domain.EndpointTypeCamel, camel).
		RegisterSubType(domain.EndpointTypeCamel, domain.SlackSubType, slack)
	engine := newTestEngine(registry, Options{Workers: 4})

	slackEndpoint := endpoint("ep-slack", domain.EndpointTypeCamel)
	slackEndpoint.SubType = domain.SlackSubType
	teamsEndpoint := endpoint("ep-teams", domain.EndpointTypeCamel)
	teamsEndpoint.SubType = "teams"

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{slackEndpoint, teamsEndpoint}))

	require.Len(t, histories, 2)
	slack.AssertCalled(t, "Process", mock.Anything, mock.Anything, []domain.Endpoint{slackEndpoint})
	camel.AssertCalled(t, "Process", mock.Anything, mock.Anything, []domain.Endpoint{teamsEndpoint})
}

func TestEngine_Dispatch_DeferredEndpointIsBackfilled(t *testing.T) {
	email := new(MockProcessor)
	email.On("Process", mock.Anything, mock.Anything, mock.Anything).Return([]domain.NotificationHistory{})

	registry := NewRegistry().Register(domain.EndpointTypeEmailSubscription, email)
	engine := newTestEngine(registry, Options{Workers: 4})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-daily", domain.EndpointTypeEmailSubscription),
	}))

	require.Len(t, histories, 1)
	assert.Equal(t, domain.StatusSuccess, histories[0].Status)
	assert.Equal(t, OutcomeAggregated, histories[0].Details["outcome"])
}

func TestEngine_Dispatch_AtLeastOneRecordPerEndpoint(t *testing.T) {
	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)
	deferred := new(MockProcessor)
	deferred.On("Process", mock.Anything, mock.Anything, mock.Anything).Return([]domain.NotificationHistory{})

	registry := NewRegistry().
		Register(domain.EndpointTypeWebhook, webhook).
		Register(domain.EndpointTypeEmailSubscription, deferred)
	engine := newTestEngine(registry, Options{Workers: 3})

	var endpoints []domain.Endpoint
	types := []domain.EndpointType{domain.EndpointTypeWebhook, domain.EndpointTypeEmailSubscription, "UNKNOWN"}
	for i := 0; i < 30; i++ {
		endpoints = append(endpoints, endpoint(fmt.Sprintf("ep-%d", i), types[i%len(types)]))
	}

	histories := collect(engine.Dispatch(context.Background(), testEvent(), endpoints))

	assert.GreaterOrEqual(t, len(histories), len(endpoints))
	records := byEndpoint(histories)
	for _, ep := range endpoints {
		_, ok := records[ep.EndpointID]
		assert.True(t, ok, "missing history for %s", ep.EndpointID)
	}
}

func TestEngine_Dispatch_RecordsOfOneEndpointAreContiguous(t *testing.T) {
	batching := new(MockProcessor)
	batching.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(func(eps []domain.Endpoint) []domain.NotificationHistory {
		time.Sleep(time.Millisecond)
		return append(succeed(eps), succeed(eps)...)
	})

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, batching)
	engine := newTestEngine(registry, Options{Workers: 8})

	var endpoints []domain.Endpoint
	for i := 0; i < 20; i++ {
		endpoints = append(endpoints, endpoint(fmt.Sprintf("ep-%d", i), domain.EndpointTypeWebhook))
	}

	histories := collect(engine.Dispatch(context.Background(), testEvent(), endpoints))

	require.Len(t, histories, 40)
	for i := 0; i < len(histories); i += 2 {
		assert.Equal(t, histories[i].EndpointID, histories[i+1].EndpointID)
	}
}

func TestEngine_Dispatch_ExpiredDeadline(t *testing.T) {
	webhook := new(MockProcessor)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 4})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	histories := collect(engine.Dispatch(ctx, testEvent(), []domain.Endpoint{
		endpoint("ep-1", domain.EndpointTypeWebhook),
		endpoint("ep-2", domain.EndpointTypeWebhook),
	}))

	require.Len(t, histories, 2)
	for _, h := range histories {
		assert.Equal(t, domain.StatusFailedInternal, h.Status)
		assert.Equal(t, processor.ReasonDeadlineExceeded, h.Details["reason"])
	}
	webhook.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Dispatch_DeadlineWhileQueued(t *testing.T) {
	slow := new(MockProcessor)
	slow.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(func(eps []domain.Endpoint) []domain.NotificationHistory {
		time.Sleep(100 * time.Millisecond)
		return succeed(eps)
	})

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, slow)
	engine := newTestEngine(registry, Options{Workers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	histories := collect(engine.Dispatch(ctx, testEvent(), []domain.Endpoint{
		endpoint("ep-1", domain.EndpointTypeWebhook),
		endpoint("ep-2", domain.EndpointTypeWebhook),
		endpoint("ep-3", domain.EndpointTypeWebhook),
	}))

	require.Len(t, histories, 3)
	records := byEndpoint(histories)
	assert.Equal(t, domain.StatusSuccess, records["ep-1"].Status)
	assert.Equal(t, processor.ReasonDeadlineExceeded, records["ep-2"].Details["reason"])
	assert.Equal(t, processor.ReasonDeadlineExceeded, records["ep-3"].Details["reason"])
}

func TestEngine_Dispatch_TypeCeiling(t *testing.T) {
	var inFlight, maxInFlight int32
	var mu sync.Mutex

	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(func(eps []domain.Endpoint) []domain.NotificationHistory {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxInFlight {
			maxInFlight = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return succeed(eps)
	})

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 8, TypeCeilings: map[string]int{"WEBHOOK": 2}})

	var endpoints []domain.Endpoint
	for i := 0; i < 10; i++ {
		endpoints = append(endpoints, endpoint(fmt.Sprintf("ep-%d", i), domain.EndpointTypeWebhook))
	}

	histories := collect(engine.Dispatch(context.Background(), testEvent(), endpoints))

	assert.Len(t, histories, 10)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, int32(2))
}

func TestEngine_Dispatch_PanicIsContained(t *testing.T) {
	broken := new(MockProcessor)
	broken.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(func([]domain.Endpoint) []domain.NotificationHistory {
		panic("boom")
	})
	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)

	registry := NewRegistry().
		Register(domain.EndpointTypeDrawer, broken).
		Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 2})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-drawer", domain.EndpointTypeDrawer),
		endpoint("ep-1", domain.EndpointTypeWebhook),
	}))

	records := byEndpoint(histories)
	require.Len(t, records, 2)
	assert.Equal(t, domain.StatusFailedInternal, records["ep-drawer"].Status)
	assert.Equal(t, domain.StatusSuccess, records["ep-1"].Status)
}

func TestEngine_Dispatch_EmailsOnlyMode(t *testing.T) {
	webhook := new(MockProcessor)
	email := new(MockProcessor)
	email.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)

	registry := NewRegistry().
		Register(domain.EndpointTypeWebhook, webhook).
		Register(domain.EndpointTypeEmailSubscription, email)
	engine := newTestEngine(registry, Options{Workers: 2, EmailsOnlyMode: true})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-1", domain.EndpointTypeWebhook),
		endpoint("ep-email", domain.EndpointTypeEmailSubscription),
	}))

	records := byEndpoint(histories)
	require.Len(t, records, 2)
	assert.Equal(t, SkippedEmailsOnly, records["ep-1"].Details["skipped"])
	assert.Equal(t, domain.StatusSuccess, records["ep-email"].Status)
	webhook.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Dispatch_DisabledEndpoint(t *testing.T) {
	webhook := new(MockProcessor)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 2})

	disabled := endpoint("ep-1", domain.EndpointTypeWebhook)
	disabled.Enabled = false

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{disabled}))

	require.Len(t, histories, 1)
	assert.Equal(t, SkippedDisabled, histories[0].Details["skipped"])
	webhook.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Dispatch_NoEndpoints(t *testing.T) {
	engine := newTestEngine(NewRegistry(), Options{})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), nil))

	assert.Empty(t, histories)
}

func TestEngine_Dispatch_ReplaysAreIndependent(t *testing.T) {
	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 2})

	eps := []domain.Endpoint{endpoint("ep-1", domain.EndpointTypeWebhook)}
	first := collect(engine.Dispatch(context.Background(), testEvent(), eps))
	second := collect(engine.Dispatch(context.Background(), testEvent(), eps))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestEngine_Dispatch_EmailEndpointsShareOneMessagePerAddress(t *testing.T) {
	emailTransport := new(MockEmailTransport)
	emailTransport.On("Send", mock.Anything, mock.MatchedBy(func(msg *transport.EmailMessage) bool {
		return len(msg.Recipients) == 1 && msg.Recipients[0] == "u1@example.com"
	})).Return(&transport.EmailReceipt{Accepted: true, MessageID: "<m1>"}, nil).Once()

	resolver := new(MockRecipientResolver)
	resolver.On("Resolve", mock.Anything, "o1", mock.Anything).Return([]domain.ResolvedRecipient{
		{UserID: "u1", Username: "alice", Addresses: []string{"u1@example.com"}},
	}, nil)

	registry := NewRegistry().Register(domain.EndpointTypeEmailSubscription,
		processor.NewEmailProcessor(emailTransport, resolver, nil, processor.EmailConfig{SingleEmailPerUser: true},
			fastPolicy, metrics.NewNop(), zap.NewNop()))
	engine := newTestEngine(registry, Options{Workers: 4})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-email-1", domain.EndpointTypeEmailSubscription),
		endpoint("ep-email-2", domain.EndpointTypeEmailSubscription),
	}))

	records := byEndpoint(histories)
	require.Len(t, histories, 2)
	assert.Equal(t, domain.StatusSuccess, records["ep-email-1"].Status)
	assert.Equal(t, domain.StatusSuccess, records["ep-email-2"].Status)
	emailTransport.AssertNumberOfCalls(t, "Send", 1)
	resolver.AssertNumberOfCalls(t, "Resolve", 2)
}

func TestEngine_Dispatch_BatchedPanicFailsEveryEndpoint(t *testing.T) {
	broken := &batchingProcessor{}
	broken.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(func([]domain.Endpoint) []domain.NotificationHistory {
		panic("boom")
	}).Once()

	registry := NewRegistry().Register(domain.EndpointTypeEmailSubscription, broken)
	engine := newTestEngine(registry, Options{Workers: 2})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-email-1", domain.EndpointTypeEmailSubscription),
		endpoint("ep-email-2", domain.EndpointTypeEmailSubscription),
	}))

	records := byEndpoint(histories)
	require.Len(t, records, 2)
	for _, id := range []string{"ep-email-1", "ep-email-2"} {
		assert.Equal(t, domain.StatusFailedInternal, records[id].Status)
		assert.Equal(t, processor.ReasonInternal, records[id].Details["reason"])
	}
	broken.AssertNumberOfCalls(t, "Process", 1)
}

func TestEngine_Dispatch_BatchBackfillsDeferredEndpoints(t *testing.T) {
	email := &batchingProcessor{}
	email.On("Process", mock.Anything, mock.Anything, mock.MatchedBy(func(eps []domain.Endpoint) bool {
		return len(eps) == 2
	})).Return(func(eps []domain.Endpoint) []domain.NotificationHistory {
		return succeed(eps[:1])
	}).Once()

	registry := NewRegistry().Register(domain.EndpointTypeEmailSubscription, email)
	engine := newTestEngine(registry, Options{Workers: 2})

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		endpoint("ep-instant", domain.EndpointTypeEmailSubscription),
		endpoint("ep-daily", domain.EndpointTypeEmailSubscription),
	}))

	records := byEndpoint(histories)
	require.Len(t, histories, 2)
	assert.Equal(t, domain.StatusSuccess, records["ep-instant"].Status)
	assert.Nil(t, records["ep-instant"].Details["outcome"])
	assert.Equal(t, OutcomeAggregated, records["ep-daily"].Details["outcome"])
	email.AssertExpectations(t)
}

func TestEngine_Dispatch_InvalidConfigurationIsRecorded(t *testing.T) {
	webhook := new(MockProcessor)
	webhook.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(succeed)

	registry := NewRegistry().Register(domain.EndpointTypeWebhook, webhook)
	engine := newTestEngine(registry, Options{Workers: 2})

	broken := endpoint("ep-broken", domain.EndpointTypeWebhook)
	broken.ConfigError = "invalid recipient settings on endpoint ep-broken"

	histories := collect(engine.Dispatch(context.Background(), testEvent(), []domain.Endpoint{
		broken,
		endpoint("ep-1", domain.EndpointTypeWebhook),
	}))

	records := byEndpoint(histories)
	require.Len(t, histories, 2)
	assert.Equal(t, domain.StatusFailedInternal, records["ep-broken"].Status)
	assert.Equal(t, processor.ReasonInternal, records["ep-broken"].Details["reason"])
	assert.Equal(t, broken.ConfigError, records["ep-broken"].Details["error_message"])
	assert.Equal(t, domain.StatusSuccess, records["ep-1"].Status)
	webhook.AssertNumberOfCalls(t, "Process", 1)
}
