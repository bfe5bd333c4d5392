package domain

// EndpointType is the channel family of an endpoint.
type EndpointType string

const (
	EndpointTypeWebhook           EndpointType = "WEBHOOK"
	EndpointTypeAnsible           EndpointType = "ANSIBLE"
	EndpointTypeEmailSubscription EndpointType = "EMAIL_SUBSCRIPTION"
	EndpointTypeDrawer            EndpointType = "DRAWER"
	EndpointTypeCamel             EndpointType = "CAMEL"
)

const SlackSubType = "slack"

// Endpoint is a delivery target as configured by the endpoint-management
// subsystem. The dispatch core only reads it.
type Endpoint struct {
	EndpointID string                 `json:"endpoint_id"`
	OrgID      string                 `json:"org_id"`
	Type       EndpointType           `json:"type"`
	SubType    string                 `json:"sub_type,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Enabled    bool                   `json:"enabled"`
	Recipients *RecipientSettings     `json:"recipient_settings,omitempty"`
	// ConfigError is set when the stored configuration could not be read.
	// Such an endpoint is recorded as failed instead of being processed.
	ConfigError string `json:"config_error,omitempty"`
}

// StringProperty returns a string property or "" when missing or not a string.
func (e *Endpoint) StringProperty(key string) string {
	if v, ok := e.Properties[key].(string); ok {
		return v
	}
	return ""
}

// BoolProperty returns a bool property or false when missing.
func (e *Endpoint) BoolProperty(key string) bool {
	if v, ok := e.Properties[key].(bool); ok {
		return v
	}
	return false
}

// MapProperty returns a nested object property.
func (e *Endpoint) MapProperty(key string) map[string]interface{} {
	if v, ok := e.Properties[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// Settings returns the recipient settings of the endpoint, defaulting to an
// instant subscription of every user of the org.
func (e *Endpoint) Settings() RecipientSettings {
	if e.Recipients == nil {
		return RecipientSettings{SubscriptionType: SubscriptionInstant}
	}
	s := *e.Recipients
	if s.SubscriptionType == "" {
		s.SubscriptionType = SubscriptionInstant
	}
	return s
}
