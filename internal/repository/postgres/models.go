package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

type endpointModel struct {
	ID                string            `gorm:"column:id;type:uuid;primaryKey"`
	OrgID             string            `gorm:"column:org_id;index"`
	Name              string            `gorm:"column:name"`
	EndpointType      string            `gorm:"column:endpoint_type"`
	EndpointSubType   *string           `gorm:"column:endpoint_sub_type"`
	Enabled           bool              `gorm:"column:enabled"`
	Properties        datatypes.JSONMap `gorm:"column:properties;type:jsonb;default:'{}'::jsonb"`
	RecipientSettings datatypes.JSON    `gorm:"column:recipient_settings;type:jsonb"`
	Created           time.Time         `gorm:"column:created"`
}

func (endpointModel) TableName() string { return "endpoints" }

type eventTypeModel struct {
	ID              string `gorm:"column:id;type:uuid;primaryKey"`
	Name            string `gorm:"column:name"`
	ApplicationName string `gorm:"column:application_name"`
	BundleName      string `gorm:"column:bundle_name"`
}

func (eventTypeModel) TableName() string { return "event_type" }

type endpointEventTypeModel struct {
	EndpointID  string `gorm:"column:endpoint_id;type:uuid;primaryKey"`
	EventTypeID string `gorm:"column:event_type_id;type:uuid;primaryKey"`
}

func (endpointEventTypeModel) TableName() string { return "endpoint_event_type" }

// emailSubscriptionModel stores a user's opt-in state for one event type and
// subscription type.
type emailSubscriptionModel struct {
	OrgID            string `gorm:"column:org_id;primaryKey"`
	UserID           string `gorm:"column:user_id;primaryKey"`
	EventTypeID      string `gorm:"column:event_type_id;type:uuid;primaryKey"`
	SubscriptionType string `gorm:"column:subscription_type;primaryKey"`
	Subscribed       bool   `gorm:"column:subscribed"`
}

func (emailSubscriptionModel) TableName() string { return "email_subscriptions" }

// toDomain converts the row. On invalid recipient settings the returned
// endpoint is still usable for history and the error describes the problem.
func (m *endpointModel) toDomain() (domain.Endpoint, error) {
	endpoint := domain.Endpoint{
		EndpointID: m.ID,
		OrgID:      m.OrgID,
		Type:       domain.EndpointType(m.EndpointType),
		Enabled:    m.Enabled,
		Properties: map[string]interface{}(m.Properties),
	}
	if m.EndpointSubType != nil {
		endpoint.SubType = *m.EndpointSubType
	}
	if len(m.RecipientSettings) > 0 && string(m.RecipientSettings) != "null" {
		var settings domain.RecipientSettings
		if err := json.Unmarshal(m.RecipientSettings, &settings); err != nil {
			return endpoint, fmt.Errorf("invalid recipient settings on endpoint %s: %w", m.ID, err)
		}
		endpoint.Recipients = &settings
	}
	return endpoint, nil
}
