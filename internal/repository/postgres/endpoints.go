package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// EndpointRepository reads endpoint subscriptions.
type EndpointRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewEndpointRepository(db *gorm.DB, log *zap.Logger) *EndpointRepository {
	return &EndpointRepository{db: db, log: log}
}

// TargetEndpoints returns the enabled endpoints of the event's org that are
// subscribed to its event type, oldest first.
func (r *EndpointRepository) TargetEndpoints(ctx context.Context, event *domain.Event) ([]domain.Endpoint, error) {
	var models []endpointModel
	err := r.db.WithContext(ctx).
		Model(&endpointModel{}).
		Joins("JOIN endpoint_event_type eet ON eet.endpoint_id = endpoints.id").
		Joins("JOIN event_type et ON et.id = eet.event_type_id").
		Where("endpoints.org_id = ? AND endpoints.enabled = ?", event.OrgID, true).
		Where("et.name = ? AND et.application_name = ? AND et.bundle_name = ?",
			event.EventTypeID, event.ApplicationName, event.BundleName).
		Order("endpoints.created ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load target endpoints: %w", err)
	}

	return r.toEndpoints(models), nil
}

// toEndpoints converts the rows. Rows with an unreadable configuration are
// kept and marked so that dispatch records them as failed.
func (r *EndpointRepository) toEndpoints(models []endpointModel) []domain.Endpoint {
	endpoints := make([]domain.Endpoint, 0, len(models))
	for i := range models {
		endpoint, err := models[i].toDomain()
		if err != nil {
			r.log.Warn("Endpoint has an invalid configuration",
				zap.String("endpoint_id", models[i].ID),
				zap.Error(err))
			endpoint.ConfigError = err.Error()
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}
