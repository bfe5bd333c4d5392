package domain

import (
	"fmt"
	"time"
)

// AggregationKey groups digest payloads of one org, bundle and application
// within one window.
type AggregationKey struct {
	OrgID           string    `json:"org_id"`
	BundleName      string    `json:"bundle"`
	ApplicationName string    `json:"application"`
	Window          time.Time `json:"window"`
}

// NewAggregationKey places the event into the window starting at a multiple of size.
func NewAggregationKey(event *Event, size time.Duration) AggregationKey {
	return AggregationKey{
		OrgID:           event.OrgID,
		BundleName:      event.BundleName,
		ApplicationName: event.ApplicationName,
		Window:          event.Timestamp.UTC().Truncate(size),
	}
}

func (k AggregationKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.OrgID, k.BundleName, k.ApplicationName, k.Window.Unix())
}

// AggregationEntry is one raw event captured for a digest.
type AggregationEntry struct {
	EventID     string                 `json:"event_id"`
	EventTypeID string                 `json:"event_type"`
	Endpoint    Endpoint               `json:"endpoint"`
	Payload     map[string]interface{} `json:"payload"`
	AddedAt     time.Time              `json:"added_at"`
}

// AggregatedPayload is the result of a flush. An empty payload has no entries.
type AggregatedPayload struct {
	Key     AggregationKey     `json:"key"`
	Entries []AggregationEntry `json:"entries"`
}

func (p *AggregatedPayload) IsEmpty() bool {
	return p == nil || len(p.Entries) == 0
}
