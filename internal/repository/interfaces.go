package repository

import (
	"context"
	"time"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// StatsQuery represents history statistics query parameters
type StatsQuery struct {
	From    time.Time
	To      time.Time
	GroupBy string
}

// StatsGroupResult represents aggregated history counts for a specific group
type StatsGroupResult struct {
	GroupValue  string
	TotalCount  uint64
	FailedCount uint64
}

// StatsResult represents the result of a history statistics query
type StatsResult struct {
	TotalCount  uint64
	FailedCount uint64
	Groups      []StatsGroupResult
}

// HistoryRepository is the append-only sink of delivery outcomes
type HistoryRepository interface {
	// InsertBatch appends history records; records are never updated or deleted
	InsertBatch(ctx context.Context, histories []*domain.NotificationHistory) (int, error)

	// InitSchema initializes the database schema (creates tables if they don't exist)
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error

	// ListByEvent returns the history records of one event, oldest first
	ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationHistory, error)

	// GetStats retrieves aggregated delivery counts based on the query
	GetStats(ctx context.Context, query StatsQuery) (*StatsResult, error)
}

// EndpointRepository reads the endpoints subscribed to an event type
type EndpointRepository interface {
	TargetEndpoints(ctx context.Context, event *domain.Event) ([]domain.Endpoint, error)
}
