package dto

import "time"

// PublishEventRequest represents a request to enqueue an event for dispatch
type PublishEventRequest struct {
	EventID     string                 `json:"event_id"`
	OrgID       string                 `json:"org_id" binding:"required"`
	Bundle      string                 `json:"bundle" binding:"required"`
	Application string                 `json:"application" binding:"required"`
	EventType   string                 `json:"event_type" binding:"required"`
	Timestamp   int64                  `json:"timestamp" binding:"required"`
	Payload     map[string]interface{} `json:"payload"`
	PayloadID   string                 `json:"payload_id"`
}

// PublishEventsBulkRequest represents a bulk publish request
type PublishEventsBulkRequest struct {
	Events []PublishEventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// GetHistoryRequest selects the history records of one event
type GetHistoryRequest struct {
	EventID string `form:"event_id" binding:"required"`
}

// GetStatsRequest represents a delivery statistics query
type GetStatsRequest struct {
	From    int64  `form:"from" binding:"required"`
	To      int64  `form:"to" binding:"required"`
	GroupBy string `form:"group_by"`
}

// FlushRequest triggers an aggregation flush. With OrgID set a single key is
// flushed; otherwise all due keys, or every key when All is set.
type FlushRequest struct {
	OrgID       string    `json:"org_id"`
	Bundle      string    `json:"bundle"`
	Application string    `json:"application"`
	Window      time.Time `json:"window"`
	All         bool      `json:"all"`
}
