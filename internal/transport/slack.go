package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SlackMessage is posted to a Slack incoming webhook.
type SlackMessage struct {
	WebhookURL string `json:"-"`
	Channel    string `json:"channel,omitempty"`
	Text       string `json:"text"`
}

type SlackResponse struct {
	OK         bool
	StatusCode int
	Body       string
}

// SlackClient posts messages through the webhook HTTP client.
type SlackClient struct {
	http *HTTPClient
}

func NewSlackClient(httpClient *HTTPClient) *SlackClient {
	return &SlackClient{http: httpClient}
}

func (c *SlackClient) Send(ctx context.Context, msg *SlackMessage) (*SlackResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal slack message: %v", ErrInvalidRequest, err)
	}

	resp, err := c.http.Send(ctx, &WebhookRequest{
		URL:    msg.WebhookURL,
		Method: http.MethodPost,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	return &SlackResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}, nil
}
