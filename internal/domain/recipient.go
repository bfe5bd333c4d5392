package domain

// SubscriptionType is the cadence at which a user receives emails.
type SubscriptionType string

const (
	SubscriptionInstant SubscriptionType = "INSTANT"
	SubscriptionDaily   SubscriptionType = "DAILY"
)

// RecipientSettings narrows the users an endpoint delivers to.
type RecipientSettings struct {
	OnlyAdmins        bool             `json:"only_admins"`
	GroupID           string           `json:"group_id,omitempty"`
	Users             []string         `json:"users,omitempty"`
	IgnorePreferences bool             `json:"ignore_preferences"`
	SubscriptionType  SubscriptionType `json:"subscription_type"`
	EventTypeID       string           `json:"event_type,omitempty"`
}

// ResolvedRecipient is a deduplicated, addressable user.
type ResolvedRecipient struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Addresses []string `json:"addresses"`
	Admin     bool     `json:"admin"`
}

// PrimaryAddress returns the first delivery address, if any.
func (r ResolvedRecipient) PrimaryAddress() string {
	if len(r.Addresses) == 0 {
		return ""
	}
	return r.Addresses[0]
}
