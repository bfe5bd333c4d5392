package processor

import (
	"errors"
	"fmt"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/recipients"
)

// Reasons recorded in history details.
const (
	ReasonUnsupportedChannelType = "UnsupportedChannelType"
	ReasonRecipientResolution    = "RecipientResolutionError"
	ReasonChannelTransport       = "ChannelTransportError"
	ReasonDeadlineExceeded       = "deadline exceeded"
	ReasonAggregationConsistency = "AggregationConsistencyError"
	ReasonInternal               = "InternalError"
)

// UnsupportedChannelTypeError is returned when no processor is registered for
// an endpoint type.
type UnsupportedChannelTypeError struct {
	Type    domain.EndpointType
	SubType string
}

func (e *UnsupportedChannelTypeError) Error() string {
	if e.SubType != "" {
		return fmt.Sprintf("unsupported channel type %s:%s", e.Type, e.SubType)
	}
	return fmt.Sprintf("unsupported channel type %s", e.Type)
}

// TransportError is a failed channel transport call. Retryable covers timeouts,
// 5xx, 429 and connection level failures.
type TransportError struct {
	Retryable  bool
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError classifies an HTTP status code. It returns nil for 2xx.
func StatusError(code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return &TransportError{
		Retryable:  code >= 500 || code == 429,
		StatusCode: code,
		Body:       body,
		Err:        fmt.Errorf("unexpected status %d", code),
	}
}

// IsRetryable reports whether err is a retryable transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// isResolutionError reports whether err is a recipient resolution failure.
// Resolution failures are retried by the resolution policy.
func isResolutionError(err error) bool {
	var re *recipients.ResolutionError
	return errors.As(err, &re)
}
