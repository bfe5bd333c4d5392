package service

import (
	"context"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/aggregation"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/dto"
)

// EventServicer defines the interface for event ingestion operations
type EventServicer interface {
	ProcessEvent(ctx context.Context, event *dto.PublishEventRequest) (string, error)
	ProcessBulkEvents(ctx context.Context, events []dto.PublishEventRequest) ([]string, []string, error)
}

// HistoryServicer defines the interface for history queries and flush triggers
type HistoryServicer interface {
	GetHistory(ctx context.Context, req *dto.GetHistoryRequest) (*dto.GetHistoryResponse, error)
	GetStats(ctx context.Context, req *dto.GetStatsRequest) (*dto.GetStatsResponse, error)
	TriggerFlush(ctx context.Context, req *dto.FlushRequest) (*dto.FlushResponse, error)
}

// Flusher drains aggregation state into digest dispatches
type Flusher interface {
	FlushDue(ctx context.Context) (aggregation.FlushResult, error)
	FlushAll(ctx context.Context) (aggregation.FlushResult, error)
	FlushKey(ctx context.Context, key domain.AggregationKey) (aggregation.FlushResult, error)
}
