package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/aggregation"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/dto"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository"
)

const (
	FlushModeKey = "key"
	FlushModeDue = "due"
	FlushModeAll = "all"

	maxHourlyRange = 90 * 24 * time.Hour
)

var validGroupBy = map[string]bool{"endpoint_type": true, "status": true, "hour": true, "day": true}

// HistoryService serves delivery history and aggregation flush requests
type HistoryService struct {
	repository repository.HistoryRepository
	flusher    Flusher
	window     time.Duration
	log        *zap.Logger
}

// NewHistoryService creates a new history service. window is the aggregation
// window size used to normalize flush keys.
func NewHistoryService(repo repository.HistoryRepository, flusher Flusher, window time.Duration, log *zap.Logger) *HistoryService {
	return &HistoryService{
		repository: repo,
		flusher:    flusher,
		window:     window,
		log:        log,
	}
}

// GetHistory lists the history records of one event
func (s *HistoryService) GetHistory(ctx context.Context, req *dto.GetHistoryRequest) (*dto.GetHistoryResponse, error) {
	records, err := s.repository.ListByEvent(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	response := &dto.GetHistoryResponse{
		EventID: req.EventID,
		Count:   len(records),
		History: make([]dto.HistoryRecord, 0, len(records)),
	}
	for _, r := range records {
		response.History = append(response.History, toHistoryRecord(r))
	}

	return response, nil
}

func toHistoryRecord(h domain.NotificationHistory) dto.HistoryRecord {
	return dto.HistoryRecord{
		ID:              h.ID.String(),
		EndpointID:      h.EndpointID,
		EndpointType:    string(h.EndpointType),
		EndpointSubType: h.EndpointSubType,
		InvocationTime:  h.InvocationTime,
		DurationMs:      h.DurationMs,
		Status:          string(h.Status),
		Details:         h.Details,
	}
}

// GetStats retrieves aggregated delivery counts from the repository
func (s *HistoryService) GetStats(ctx context.Context, req *dto.GetStatsRequest) (*dto.GetStatsResponse, error) {
	if req.From > req.To {
		s.log.Warn("Invalid time range for stats",
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		return nil, fmt.Errorf("%w: from timestamp must be less than or equal to to timestamp", ErrValidation)
	}

	if req.GroupBy != "" {
		if !validGroupBy[req.GroupBy] {
			s.log.Warn("Invalid group_by value", zap.String("group_by", req.GroupBy))
			return nil, fmt.Errorf("%w: invalid group_by value: %s (supported: endpoint_type, status, hour, day)", ErrValidation, req.GroupBy)
		}

		rangeDuration := time.Duration(req.To-req.From) * time.Second
		if req.GroupBy == "hour" && rangeDuration > maxHourlyRange {
			return nil, fmt.Errorf("%w: time range too large for hourly grouping (max 90 days, got %d days)",
				ErrValidation, int(rangeDuration.Hours()/24))
		}
	}

	result, err := s.repository.GetStats(ctx, repository.StatsQuery{
		From:    time.Unix(req.From, 0).UTC(),
		To:      time.Unix(req.To, 0).UTC(),
		GroupBy: req.GroupBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stats from repository: %w", err)
	}

	response := &dto.GetStatsResponse{
		From:        req.From,
		To:          req.To,
		TotalCount:  result.TotalCount,
		FailedCount: result.FailedCount,
		GroupBy:     req.GroupBy,
		Groups:      make([]dto.StatsGroupData, 0, len(result.Groups)),
	}
	for _, group := range result.Groups {
		response.Groups = append(response.Groups, dto.StatsGroupData{
			GroupValue:  group.GroupValue,
			TotalCount:  group.TotalCount,
			FailedCount: group.FailedCount,
		})
	}

	return response, nil
}

// TriggerFlush flushes a single aggregation key, all due keys or every key
func (s *HistoryService) TriggerFlush(ctx context.Context, req *dto.FlushRequest) (*dto.FlushResponse, error) {
	var (
		mode   string
		result aggregation.FlushResult
		err    error
	)

	switch {
	case req.OrgID != "":
		if req.Bundle == "" || req.Application == "" || req.Window.IsZero() {
			return nil, fmt.Errorf("%w: bundle, application and window are required with org_id", ErrValidation)
		}
		mode = FlushModeKey
		result, err = s.flusher.FlushKey(ctx, domain.AggregationKey{
			OrgID:           req.OrgID,
			BundleName:      req.Bundle,
			ApplicationName: req.Application,
			Window:          req.Window.UTC().Truncate(s.window),
		})
	case req.All:
		mode = FlushModeAll
		result, err = s.flusher.FlushAll(ctx)
	default:
		mode = FlushModeDue
		result, err = s.flusher.FlushDue(ctx)
	}

	s.log.Info("Aggregation flush triggered",
		zap.String("mode", mode),
		zap.Int("keys", result.Keys),
		zap.Int("entries", result.Entries),
		zap.Int("histories", result.Histories),
		zap.Error(err))

	if err != nil {
		return nil, fmt.Errorf("aggregation flush failed: %w", err)
	}

	return &dto.FlushResponse{
		Mode:      mode,
		Keys:      result.Keys,
		Entries:   result.Entries,
		Histories: result.Histories,
	}, nil
}
