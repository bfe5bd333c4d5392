package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/aggregation"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/dto"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository"
)

// MockHistoryRepository is a mock implementation of repository.HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) InsertBatch(ctx context.Context, histories []*domain.NotificationHistory) (int, error) {
	args := m.Called(ctx, histories)
	return args.Int(0), args.Error(1)
}

func (m *MockHistoryRepository) InitSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHistoryRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHistoryRepository) Close() error {
	return m.Called().Error(0)
}

func (m *MockHistoryRepository) ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationHistory, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.NotificationHistory), args.Error(1)
}

func (m *MockHistoryRepository) GetStats(ctx context.Context, query repository.StatsQuery) (*repository.StatsResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.StatsResult), args.Error(1)
}

// MockFlusher is a mock implementation of Flusher
type MockFlusher struct {
	mock.Mock
}

func (m *MockFlusher) FlushDue(ctx context.Context) (aggregation.FlushResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(aggregation.FlushResult), args.Error(1)
}

func (m *MockFlusher) FlushAll(ctx context.Context) (aggregation.FlushResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(aggregation.FlushResult), args.Error(1)
}

func (m *MockFlusher) FlushKey(ctx context.Context, key domain.AggregationKey) (aggregation.FlushResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(aggregation.FlushResult), args.Error(1)
}

func newTestHistoryService() (*HistoryService, *MockHistoryRepository, *MockFlusher) {
	repo := new(MockHistoryRepository)
	flusher := new(MockFlusher)
	return NewHistoryService(repo, flusher, 24*time.Hour, zap.NewNop()), repo, flusher
}

func TestHistoryService_GetHistory(t *testing.T) {
	service, repo, _ := newTestHistoryService()

	id := uuid.New()
	invoked := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	repo.On("ListByEvent", mock.Anything, "evt-1").Return([]domain.NotificationHistory{{
		ID:             id,
		EventID:        "evt-1",
		EndpointID:     "ep-1",
		EndpointType:   domain.EndpointTypeWebhook,
		InvocationTime: invoked,
		DurationMs:     12,
		Status:         domain.StatusFailedExternal,
		Details:        map[string]interface{}{"code": float64(503)},
	}}, nil)

	response, err := service.GetHistory(context.Background(), &dto.GetHistoryRequest{EventID: "evt-1"})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", response.EventID)
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.History, 1)
	record := response.History[0]
	assert.Equal(t, id.String(), record.ID)
	assert.Equal(t, "WEBHOOK", record.EndpointType)
	assert.Equal(t, "FAILED_EXTERNAL", record.Status)
	assert.Equal(t, float64(503), record.Details["code"])
}

func TestHistoryService_GetHistory_Empty(t *testing.T) {
	service, repo, _ := newTestHistoryService()
	repo.On("ListByEvent", mock.Anything, "evt-unknown").Return([]domain.NotificationHistory{}, nil)

	response, err := service.GetHistory(context.Background(), &dto.GetHistoryRequest{EventID: "evt-unknown"})

	require.NoError(t, err)
	assert.Zero(t, response.Count)
	assert.NotNil(t, response.History)
}

func TestHistoryService_GetHistory_RepositoryError(t *testing.T) {
	service, repo, _ := newTestHistoryService()
	repo.On("ListByEvent", mock.Anything, "evt-1").Return(nil, errors.New("clickhouse down"))

	_, err := service.GetHistory(context.Background(), &dto.GetHistoryRequest{EventID: "evt-1"})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestHistoryService_GetStats_Grouped(t *testing.T) {
	service, repo, _ := newTestHistoryService()

	repo.On("GetStats", mock.Anything, repository.StatsQuery{
		From:    time.Unix(1792396800, 0).UTC(),
		To:      time.Unix(1792483200, 0).UTC(),
		GroupBy: "endpoint_type",
	}).Return(&repository.StatsResult{
		TotalCount:  10,
		FailedCount: 3,
		Groups: []repository.StatsGroupResult{
			{GroupValue: "WEBHOOK", TotalCount: 7, FailedCount: 3},
			{GroupValue: "EMAIL_SUBSCRIPTION", TotalCount: 3},
		},
	}, nil)

	response, err := service.GetStats(context.Background(), &dto.GetStatsRequest{
		From: 1792396800, To: 1792483200, GroupBy: "endpoint_type",
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(10), response.TotalCount)
	assert.Equal(t, uint64(3), response.FailedCount)
	require.Len(t, response.Groups, 2)
	assert.Equal(t, "WEBHOOK", response.Groups[0].GroupValue)
	assert.Equal(t, uint64(3), response.Groups[0].FailedCount)
}

func TestHistoryService_GetStats_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  dto.GetStatsRequest
		want string
	}{
		{"inverted range", dto.GetStatsRequest{From: 200, To: 100}, "from timestamp"},
		{"unknown group", dto.GetStatsRequest{From: 100, To: 200, GroupBy: "channel"}, "invalid group_by"},
		{"hourly range too large", dto.GetStatsRequest{From: 0, To: 91 * 24 * 3600, GroupBy: "hour"}, "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, repo, _ := newTestHistoryService()

			_, err := service.GetStats(context.Background(), &tt.req)

			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
			repo.AssertNotCalled(t, "GetStats", mock.Anything, mock.Anything)
		})
	}
}

func TestHistoryService_TriggerFlush_SingleKey(t *testing.T) {
	service, _, flusher := newTestHistoryService()

	flusher.On("FlushKey", mock.Anything, domain.AggregationKey{
		OrgID:           "o1",
		BundleName:      "rhel",
		ApplicationName: "advisor",
		Window:          time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	}).Return(aggregation.FlushResult{Keys: 1, Entries: 4, Histories: 1}, nil)

	response, err := service.TriggerFlush(context.Background(), &dto.FlushRequest{
		OrgID:       "o1",
		Bundle:      "rhel",
		Application: "advisor",
		Window:      time.Date(2026, 10, 19, 13, 45, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, FlushModeKey, response.Mode)
	assert.Equal(t, 4, response.Entries)
	flusher.AssertExpectations(t)
}

func TestHistoryService_TriggerFlush_SingleKeyRequiresFullKey(t *testing.T) {
	service, _, flusher := newTestHistoryService()

	_, err := service.TriggerFlush(context.Background(), &dto.FlushRequest{OrgID: "o1"})

	assert.ErrorIs(t, err, ErrValidation)
	flusher.AssertNotCalled(t, "FlushKey", mock.Anything, mock.Anything)
}

func TestHistoryService_TriggerFlush_DueAndAll(t *testing.T) {
	service, _, flusher := newTestHistoryService()

	flusher.On("FlushDue", mock.Anything).Return(aggregation.FlushResult{Keys: 2, Entries: 5, Histories: 2}, nil)
	flusher.On("FlushAll", mock.Anything).Return(aggregation.FlushResult{Keys: 3, Entries: 6, Histories: 3}, nil)

	due, err := service.TriggerFlush(context.Background(), &dto.FlushRequest{})
	require.NoError(t, err)
	assert.Equal(t, FlushModeDue, due.Mode)
	assert.Equal(t, 2, due.Keys)

	all, err := service.TriggerFlush(context.Background(), &dto.FlushRequest{All: true})
	require.NoError(t, err)
	assert.Equal(t, FlushModeAll, all.Mode)
	assert.Equal(t, 3, all.Keys)
}

func TestHistoryService_TriggerFlush_Error(t *testing.T) {
	service, _, flusher := newTestHistoryService()
	flusher.On("FlushDue", mock.Anything).Return(aggregation.FlushResult{}, &aggregation.ConsistencyError{Detail: "length changed"})

	_, err := service.TriggerFlush(context.Background(), &dto.FlushRequest{})

	var consistency *aggregation.ConsistencyError
	assert.ErrorAs(t, err, &consistency)
}
