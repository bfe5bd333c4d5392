package recipients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
)

const findUsersPath = "/v2/findUsers"

// HTTPIdentityClient queries the identity service over HTTP. It makes one
// request per call; retries belong to the recipient resolution policy of the
// calling processor.
type HTTPIdentityClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPIdentityClient(cfg config.Recipients, log *zap.Logger) *HTTPIdentityClient {
	return &HTTPIdentityClient{
		baseURL: strings.TrimRight(cfg.IdentityURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		log:     log,
	}
}

func (c *HTTPIdentityClient) LookupUsers(ctx context.Context, query IdentityQuery) ([]IdentityUser, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity query: %w", err)
	}

	users, err := c.findUsers(ctx, body)
	if err != nil {
		c.log.Warn("Identity lookup failed",
			zap.String("org_id", query.OrgID),
			zap.Int("offset", query.Offset),
			zap.Error(err))
		return nil, err
	}
	return users, nil
}

func (c *HTTPIdentityClient) findUsers(ctx context.Context, body []byte) ([]IdentityUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+findUsersPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("Failed to close identity response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("identity service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var users []IdentityUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return users, nil
}
