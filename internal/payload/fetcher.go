package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// ErrNotFound is returned when no payload is stored under the requested id.
var ErrNotFound = errors.New("payload not found")

// Fetcher returns the full body of an offloaded event payload.
type Fetcher interface {
	Fetch(ctx context.Context, payloadID string) (map[string]interface{}, error)
}

// Hydrate fills event.Payload from the fetcher when the event only carries a
// payload reference. Events with an inline payload are left untouched.
func Hydrate(ctx context.Context, fetcher Fetcher, event *domain.Event) error {
	if !event.NeedsPayload() {
		return nil
	}
	if fetcher == nil {
		return fmt.Errorf("event %s references payload %s but no payload store is configured", event.EventID, event.PayloadID)
	}

	body, err := fetcher.Fetch(ctx, event.PayloadID)
	if err != nil {
		return fmt.Errorf("failed to fetch payload %s: %w", event.PayloadID, err)
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	event.Payload = body
	return nil
}
