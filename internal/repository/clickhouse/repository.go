package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository"
)

// Repository implements HistoryRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the append-only history table. Retries and replays add
// rows, so a plain MergeTree is used.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS notification_history (
		id UUID,
		event_id String,
		endpoint_id String,
		endpoint_type LowCardinality(String),
		endpoint_sub_type LowCardinality(String),
		invocation_time DateTime64(3),
		duration_ms Int64,
		status LowCardinality(String),
		details String,
		inserted_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = MergeTree
	ORDER BY (event_id, endpoint_id, invocation_time)
	PARTITION BY toYYYYMM(invocation_time)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create notification_history table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch appends a batch of history records
func (r *Repository) InsertBatch(ctx context.Context, histories []*domain.NotificationHistory) (int, error) {
	if len(histories) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO notification_history (id, event_id, endpoint_id, endpoint_type, endpoint_sub_type, invocation_time, duration_ms, status, details)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, h := range histories {
		details, err := encodeDetails(h.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to encode details of history %s: %w", h.ID, err)
		}

		err = batch.Append(
			h.ID,
			h.EventID,
			h.EndpointID,
			string(h.EndpointType),
			h.EndpointSubType,
			h.InvocationTime,
			h.DurationMs,
			string(h.Status),
			details,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append history to batch: %w", err)
		}
		insertedCount++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// ListByEvent returns the history records of one event, oldest first
func (r *Repository) ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationHistory, error) {
	rows, err := r.client.Conn().Query(ctx, `
		SELECT id, event_id, endpoint_id, endpoint_type, endpoint_sub_type,
			invocation_time, duration_ms, status, details
		FROM notification_history
		WHERE event_id = ?
		ORDER BY invocation_time ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			r.log.Error("Failed to close history rows", zap.Error(err))
		}
	}(rows)

	histories := []domain.NotificationHistory{}
	for rows.Next() {
		var (
			h               domain.NotificationHistory
			id              uuid.UUID
			endpointType    string
			status          string
			details         string
			invocationTime  time.Time
			endpointSubType string
		)
		if err := rows.Scan(&id, &h.EventID, &h.EndpointID, &endpointType, &endpointSubType,
			&invocationTime, &h.DurationMs, &status, &details); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.ID = id
		h.EndpointType = domain.EndpointType(endpointType)
		h.EndpointSubType = endpointSubType
		h.InvocationTime = invocationTime
		h.Status = domain.NotificationStatus(status)
		h.Details, err = decodeDetails(details)
		if err != nil {
			r.log.Warn("Unreadable history details", zap.String("id", id.String()), zap.Error(err))
		}
		histories = append(histories, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return histories, nil
}

// GetStats retrieves aggregated delivery counts from ClickHouse
func (r *Repository) GetStats(ctx context.Context, query repository.StatsQuery) (*repository.StatsResult, error) {
	result := &repository.StatsResult{
		Groups: []repository.StatsGroupResult{},
	}

	whereClause := "WHERE invocation_time >= ? AND invocation_time <= ?"
	args := []interface{}{query.From, query.To}

	overallQuery := fmt.Sprintf(`
		SELECT
			count() as total_count,
			countIf(status != 'SUCCESS') as failed_count
		FROM notification_history
		%s
	`, whereClause)

	row := r.client.Conn().QueryRow(ctx, overallQuery, args...)
	if err := row.Scan(&result.TotalCount, &result.FailedCount); err != nil {
		return nil, fmt.Errorf("failed to query overall stats: %w", err)
	}

	if query.GroupBy == "" {
		return result, nil
	}

	selectField, groupByClause, orderBy, err := groupingFor(query.GroupBy)
	if err != nil {
		return nil, err
	}

	groupedQuery := fmt.Sprintf(`
		SELECT
			%s as group_value,
			count() as total_count,
			countIf(status != 'SUCCESS') as failed_count
		FROM notification_history
		%s
		%s
		%s
	`, selectField, whereClause, groupByClause, orderBy)

	rows, err := r.client.Conn().Query(ctx, groupedQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped stats: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			r.log.Error("Failed to close grouped stats rows", zap.Error(err))
		}
	}(rows)

	for rows.Next() {
		var group repository.StatsGroupResult
		if err := rows.Scan(&group.GroupValue, &group.TotalCount, &group.FailedCount); err != nil {
			return nil, fmt.Errorf("failed to scan grouped stats row: %w", err)
		}
		result.Groups = append(result.Groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped stats rows: %w", err)
	}

	return result, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

func groupingFor(groupBy string) (selectField, groupByClause, orderBy string, err error) {
	switch groupBy {
	case "endpoint_type":
		return "endpoint_type", "GROUP BY endpoint_type", "ORDER BY total_count DESC", nil
	case "status":
		return "status", "GROUP BY status", "ORDER BY total_count DESC", nil
	case "hour":
		return "formatDateTime(toStartOfHour(invocation_time), '%Y-%m-%d %H:00:00')",
			"GROUP BY group_value", "ORDER BY group_value ASC", nil
	case "day":
		return "formatDateTime(toStartOfDay(invocation_time), '%Y-%m-%d')",
			"GROUP BY group_value", "ORDER BY group_value ASC", nil
	default:
		return "", "", "", fmt.Errorf("unsupported group_by value: %s (supported: endpoint_type, status, hour, day)", groupBy)
	}
}

func encodeDetails(details map[string]interface{}) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDetails(raw string) (map[string]interface{}, error) {
	details := map[string]interface{}{}
	if raw == "" {
		return details, nil
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return map[string]interface{}{"raw": raw}, err
	}
	return details, nil
}
