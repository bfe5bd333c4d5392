package domain

import "time"

const (
	AggregationBundle      = "console"
	AggregationApplication = "notifications"
	AggregationEventType   = "aggregation"
)

// Event is an inbound notification event. It is never mutated once dispatch
// starts; the only exception is payload hydration before dispatch.
type Event struct {
	EventID         string                 `json:"event_id"`
	OrgID           string                 `json:"org_id"`
	BundleName      string                 `json:"bundle"`
	ApplicationName string                 `json:"application"`
	EventTypeID     string                 `json:"event_type"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	PayloadID       string                 `json:"payload_id,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// IsAggregation reports whether the event is a digest built by an aggregation flush.
func (e *Event) IsAggregation() bool {
	return e.BundleName == AggregationBundle &&
		e.ApplicationName == AggregationApplication &&
		e.EventTypeID == AggregationEventType
}

// NeedsPayload reports whether the body was offloaded and must be fetched.
func (e *Event) NeedsPayload() bool {
	return e.Payload == nil && e.PayloadID != ""
}
