package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidRequest marks a request that can never succeed as configured.
var ErrInvalidRequest = errors.New("invalid transport request")

const maxResponseBody = 64 * 1024

type BasicAuth struct {
	Username string
	Password string
}

// WebhookRequest is a single outbound HTTP call.
type WebhookRequest struct {
	URL                string
	Method             string
	Headers            map[string]string
	Body               []byte
	BasicAuth          *BasicAuth
	InsecureSkipVerify bool
}

type WebhookResponse struct {
	StatusCode int
	Body       string
}

// HTTPClient sends webhook requests. It keeps a second client for endpoints
// with SSL verification disabled.
type HTTPClient struct {
	secured   *http.Client
	unsecured *http.Client
	log       *zap.Logger
}

// NewHTTPClient creates an HTTP client with the given per-request timeout
func NewHTTPClient(timeout time.Duration, log *zap.Logger) *HTTPClient {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

	return &HTTPClient{
		secured:   &http.Client{Timeout: timeout},
		unsecured: &http.Client{Timeout: timeout, Transport: insecureTransport},
		log:       log,
	}
}

// Send performs the request. A non-2xx status is not an error: the caller
// classifies it from the response.
func (c *HTTPClient) Send(ctx context.Context, req *WebhookRequest) (*WebhookResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: malformed url %q", ErrInvalidRequest, req.URL)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	client := c.secured
	if req.InsecureSkipVerify {
		client = c.unsecured
	}

	c.log.Debug("Starting webhook call",
		zap.String("url", target.Redacted()),
		zap.String("method", method))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook call failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("Failed to close webhook response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.log.Warn("Failed to read webhook response body", zap.Error(err))
	}

	return &WebhookResponse{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}
