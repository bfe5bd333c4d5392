package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// ErrInvalidEvent marks a message that can never be dispatched
var ErrInvalidEvent = errors.New("invalid event")

// JSONEventParser implements MessageParser for JSON-formatted event messages
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse parses a JSON message body into an Event
func (p *JSONEventParser) Parse(body []byte) (*domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	if err := validate(&event); err != nil {
		return nil, err
	}

	return &event, nil
}

func validate(event *domain.Event) error {
	var missing []string
	required := map[string]string{
		"event_id":    event.EventID,
		"org_id":      event.OrgID,
		"bundle":      event.BundleName,
		"application": event.ApplicationName,
		"event_type":  event.EventTypeID,
	}
	for _, field := range []string{"event_id", "org_id", "bundle", "application", "event_type"} {
		if strings.TrimSpace(required[field]) == "" {
			missing = append(missing, field)
		}
	}
	if event.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}
