package consumer

import (
	"context"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.Event, error)
}

// EventDispatcher delivers an event to its endpoints and streams the outcomes
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *domain.Event, endpoints []domain.Endpoint) <-chan domain.NotificationHistory
}

// HistoryWriter persists dispatch outcomes
type HistoryWriter interface {
	InsertBatch(ctx context.Context, histories []*domain.NotificationHistory) (int, error)
}
