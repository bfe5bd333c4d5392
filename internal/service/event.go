package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/dto"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/queue"
)

// eventNamespace scopes the deterministic event ids
var eventNamespace = uuid.MustParse("5b0e4a47-8d1f-4c55-9a51-6c7e1f0e2a10")

// EventService validates inbound events and enqueues them for dispatch
type EventService struct {
	publisher queue.QueuePublisher
	log       *zap.Logger
	now       func() time.Time
}

// NewEventService creates a new event service
func NewEventService(publisher queue.QueuePublisher, log *zap.Logger) *EventService {
	return &EventService{
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// computeEventID derives a stable id from the event content so a resubmitted
// event keeps its id: org|bundle|application|event_type|timestamp|payload
func computeEventID(event *dto.PublishEventRequest) (string, error) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	data := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s",
		event.OrgID,
		event.Bundle,
		event.Application,
		event.EventType,
		event.Timestamp,
		event.PayloadID,
		body,
	)

	return uuid.NewSHA1(eventNamespace, []byte(data)).String(), nil
}

// ProcessEvent validates an event and publishes it to the ingress queue
func (s *EventService) ProcessEvent(ctx context.Context, event *dto.PublishEventRequest) (string, error) {
	currentTime := s.now().Unix()
	if event.Timestamp > currentTime+1 {
		s.log.Warn("Timestamp validation failed: future timestamp",
			zap.Int64("event_timestamp", event.Timestamp),
			zap.Int64("current_time", currentTime),
			zap.String("org_id", event.OrgID))
		return "", fmt.Errorf("%w: timestamp cannot be in the future: %d > %d", ErrValidation, event.Timestamp, currentTime)
	}

	if event.Payload != nil && event.PayloadID != "" {
		return "", fmt.Errorf("%w: payload and payload_id are mutually exclusive", ErrValidation)
	}

	eventID := event.EventID
	if eventID == "" {
		var err error
		if eventID, err = computeEventID(event); err != nil {
			return "", err
		}
	}

	if err := s.publisher.PublishEvent(ctx, &domain.Event{
		EventID:         eventID,
		OrgID:           event.OrgID,
		BundleName:      event.Bundle,
		ApplicationName: event.Application,
		EventTypeID:     event.EventType,
		Payload:         event.Payload,
		PayloadID:       event.PayloadID,
		Timestamp:       time.Unix(event.Timestamp, 0).UTC(),
	}); err != nil {
		return "", fmt.Errorf("failed to publish event to queue: %w", err)
	}

	return eventID, nil
}

// ProcessBulkEvents validates and publishes multiple events
func (s *EventService) ProcessBulkEvents(ctx context.Context, events []dto.PublishEventRequest) ([]string, []string, error) {
	var eventIDs []string
	var errors []string

	for i := range events {
		eventID, err := s.ProcessEvent(ctx, &events[i])
		if err != nil {
			errors = append(errors, err.Error())
			s.log.Warn("Failed to process event in bulk",
				zap.Int("index", i),
				zap.Error(err),
				zap.String("org_id", events[i].OrgID))
			continue
		}
		eventIDs = append(eventIDs, eventID)
	}

	return eventIDs, errors, nil
}
