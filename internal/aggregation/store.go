package aggregation

import (
	"context"
	"fmt"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

// Store accumulates digest entries per aggregation key. Flush atomically
// removes and returns everything added to a key since the previous flush.
type Store interface {
	Add(ctx context.Context, key domain.AggregationKey, entry domain.AggregationEntry) error
	Flush(ctx context.Context, key domain.AggregationKey) (*domain.AggregatedPayload, error)
	Keys(ctx context.Context) ([]domain.AggregationKey, error)
}

// ConsistencyError reports a detected add/flush race. It indicates a bug and
// must never be swallowed.
type ConsistencyError struct {
	Key    domain.AggregationKey
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("aggregation consistency violated for key %s: %s", e.Key, e.Detail)
}
