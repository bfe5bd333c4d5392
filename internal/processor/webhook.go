package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

// Endpoint property keys read by the webhook processor.
const (
	PropertyURL                    = "url"
	PropertyMethod                 = "method"
	PropertySecretToken            = "secret_token"
	PropertyBasicAuthentication    = "basic_authentication"
	PropertyDisableSSLVerification = "disable_ssl_verification"

	SecretTokenHeader = "X-Insight-Token"
)

// WebhookTransport performs one HTTP call.
type WebhookTransport interface {
	Send(ctx context.Context, req *transport.WebhookRequest) (*transport.WebhookResponse, error)
}

type WebhookProcessor struct {
	base
	transport WebhookTransport
}

func NewWebhookProcessor(t WebhookTransport, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		base:      newBase("webhook", policy, m, log),
		transport: t,
	}
}

// webhookBody is the JSON document posted to webhook endpoints.
type webhookBody struct {
	EventID     string                 `json:"id"`
	OrgID       string                 `json:"org_id"`
	Bundle      string                 `json:"bundle"`
	Application string                 `json:"application"`
	EventType   string                 `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload"`
}

func (p *WebhookProcessor) Process(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) []domain.NotificationHistory {
	histories := make([]domain.NotificationHistory, 0, len(endpoints))
	for i := range endpoints {
		histories = append(histories, *p.processEndpoint(ctx, event, &endpoints[i]))
	}
	return histories
}

func (p *WebhookProcessor) processEndpoint(ctx context.Context, event *domain.Event, endpoint *domain.Endpoint) *domain.NotificationHistory {
	start := p.now()
	defer p.observe(start)

	history := domain.NewHistory(event, endpoint, start)

	req, err := p.buildRequest(event, endpoint)
	if err != nil {
		history.Details["reason"] = ReasonInternal
		history.Details["error_message"] = err.Error()
		return history.Finish(domain.StatusFailedInternal, p.now())
	}
	history.Details["url"] = req.URL
	history.Details["method"] = req.Method

	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("endpoint_id", endpoint.EndpointID),
	}

	attempts, err := p.retry(ctx, fields, func(ctx context.Context) error {
		return p.send(ctx, req)
	})
	history.Details["attempts"] = attempts

	if err != nil {
		status := transportFailure(history, err)
		p.log.Info("Webhook delivery failed",
			append(fields, zap.String("status", string(status)), zap.Int("attempts", attempts), zap.Error(err))...)
		return history.Finish(status, p.now())
	}

	return history.Finish(domain.StatusSuccess, p.now())
}

func (p *WebhookProcessor) send(ctx context.Context, req *transport.WebhookRequest) error {
	resp, err := p.transport.Send(ctx, req)
	if err != nil {
		if errors.Is(err, transport.ErrInvalidRequest) {
			return err
		}
		return &TransportError{Retryable: true, Err: err}
	}
	return StatusError(resp.StatusCode, resp.Body)
}

func (p *WebhookProcessor) buildRequest(event *domain.Event, endpoint *domain.Endpoint) (*transport.WebhookRequest, error) {
	target := endpoint.StringProperty(PropertyURL)
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %s has a malformed url %q", transport.ErrInvalidRequest, endpoint.EndpointID, target)
	}

	method := strings.ToUpper(endpoint.StringProperty(PropertyMethod))
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(webhookBody{
		EventID:     event.EventID,
		OrgID:       event.OrgID,
		Bundle:      event.BundleName,
		Application: event.ApplicationName,
		EventType:   event.EventTypeID,
		Timestamp:   event.Timestamp,
		Payload:     event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req := &transport.WebhookRequest{
		URL:                target,
		Method:             method,
		Headers:            map[string]string{},
		Body:               body,
		InsecureSkipVerify: endpoint.BoolProperty(PropertyDisableSSLVerification),
	}
	if token := endpoint.StringProperty(PropertySecretToken); token != "" {
		req.Headers[SecretTokenHeader] = token
	}
	if auth := endpoint.MapProperty(PropertyBasicAuthentication); auth != nil {
		username, _ := auth["username"].(string)
		password, _ := auth["password"].(string)
		req.BasicAuth = &transport.BasicAuth{Username: username, Password: password}
	}

	return req, nil
}
