package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// PreferenceRepository reads email opt-outs.
type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Unsubscribers returns the users of orgID that opted out of the subscription
// type for the named event type, or for any event type when eventTypeName is empty.
func (r *PreferenceRepository) Unsubscribers(ctx context.Context, orgID, eventTypeName string, subscription domain.SubscriptionType) ([]string, error) {
	query := r.db.WithContext(ctx).
		Model(&emailSubscriptionModel{}).
		Where("email_subscriptions.org_id = ? AND email_subscriptions.subscription_type = ? AND email_subscriptions.subscribed = ?",
			orgID, string(subscription), false)
	if eventTypeName != "" {
		query = query.
			Joins("JOIN event_type et ON et.id = email_subscriptions.event_type_id").
			Where("et.name = ?", eventTypeName)
	}

	var users []string
	if err := query.Distinct().Pluck("email_subscriptions.user_id", &users).Error; err != nil {
		return nil, fmt.Errorf("failed to load unsubscribed users: %w", err)
	}
	return users, nil
}
