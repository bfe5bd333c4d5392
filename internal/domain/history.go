package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus is the outcome of a delivery attempt.
type NotificationStatus string

const (
	StatusSuccess        NotificationStatus = "SUCCESS"
	StatusFailedExternal NotificationStatus = "FAILED_EXTERNAL"
	StatusFailedInternal NotificationStatus = "FAILED_INTERNAL"
)

// NotificationHistory records one delivery outcome for an (event, endpoint)
// pair. Records are append-only.
type NotificationHistory struct {
	ID              uuid.UUID              `json:"id" ch:"id"`
	EventID         string                 `json:"event_id" ch:"event_id"`
	EndpointID      string                 `json:"endpoint_id" ch:"endpoint_id"`
	EndpointType    EndpointType           `json:"endpoint_type" ch:"endpoint_type"`
	EndpointSubType string                 `json:"endpoint_sub_type,omitempty" ch:"endpoint_sub_type"`
	InvocationTime  time.Time              `json:"invocation_time" ch:"invocation_time"`
	DurationMs      int64                  `json:"duration_ms" ch:"duration_ms"`
	Status          NotificationStatus     `json:"status" ch:"status"`
	Details         map[string]interface{} `json:"details,omitempty" ch:"-"`
}

// NewHistory starts a history record for the endpoint at the given invocation time.
func NewHistory(event *Event, endpoint *Endpoint, invokedAt time.Time) *NotificationHistory {
	return &NotificationHistory{
		ID:              uuid.New(),
		EventID:         event.EventID,
		EndpointID:      endpoint.EndpointID,
		EndpointType:    endpoint.Type,
		EndpointSubType: endpoint.SubType,
		InvocationTime:  invokedAt,
		Details:         map[string]interface{}{},
	}
}

// Finish sets the final status and measures the duration since invocation.
func (h *NotificationHistory) Finish(status NotificationStatus, now time.Time) *NotificationHistory {
	h.Status = status
	h.DurationMs = now.Sub(h.InvocationTime).Milliseconds()
	return h
}
