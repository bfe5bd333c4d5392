package dto

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// PublishEventResponse represents an accepted event
type PublishEventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// PublishBulkEventsResponse represents the outcome of a bulk publish
type PublishBulkEventsResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	EventIDs []string `json:"event_ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// HistoryRecord is one delivery outcome
type HistoryRecord struct {
	ID              string                 `json:"id"`
	EndpointID      string                 `json:"endpoint_id"`
	EndpointType    string                 `json:"endpoint_type"`
	EndpointSubType string                 `json:"endpoint_sub_type,omitempty"`
	InvocationTime  time.Time              `json:"invocation_time"`
	DurationMs      int64                  `json:"duration_ms"`
	Status          string                 `json:"status"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// GetHistoryResponse lists the history records of an event
type GetHistoryResponse struct {
	EventID string          `json:"event_id"`
	Count   int             `json:"count"`
	History []HistoryRecord `json:"history"`
}

// StatsGroupData represents delivery counts for one group
type StatsGroupData struct {
	GroupValue  string `json:"group_value"`
	TotalCount  uint64 `json:"total_count"`
	FailedCount uint64 `json:"failed_count"`
}

// GetStatsResponse represents the delivery statistics response
type GetStatsResponse struct {
	From        int64            `json:"from"`
	To          int64            `json:"to"`
	TotalCount  uint64           `json:"total_count"`
	FailedCount uint64           `json:"failed_count"`
	GroupBy     string           `json:"group_by,omitempty"`
	Groups      []StatsGroupData `json:"groups,omitempty"`
}

// FlushResponse summarizes a flush run
type FlushResponse struct {
	Mode      string `json:"mode"`
	Keys      int    `json:"keys"`
	Entries   int    `json:"entries"`
	Histories int    `json:"histories"`
}
