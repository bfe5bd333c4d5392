package aggregation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

type bucket struct {
	mu      sync.Mutex
	key     domain.AggregationKey
	entries []domain.AggregationEntry
	added   uint64
	flushed uint64
	retired bool
}

// MemoryStore keeps aggregation state in process memory with one mutex per key.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
	}
}

func (s *MemoryStore) bucket(key domain.AggregationKey) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key.String()]
	if !ok {
		b = &bucket{key: key}
		s.buckets[key.String()] = b
	}
	return b
}

func (s *MemoryStore) Add(ctx context.Context, key domain.AggregationKey, entry domain.AggregationEntry) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b := s.bucket(key)
		b.mu.Lock()
		if b.retired {
			// Removed by a flush after we looked it up; take the new one.
			b.mu.Unlock()
			continue
		}
		b.entries = append(b.entries, entry)
		b.added++
		b.mu.Unlock()
		return nil
	}
}

func (s *MemoryStore) Flush(ctx context.Context, key domain.AggregationKey) (*domain.AggregatedPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	b, ok := s.buckets[key.String()]
	if !ok {
		s.mu.Unlock()
		return &domain.AggregatedPayload{Key: key}, nil
	}
	b.mu.Lock()
	delete(s.buckets, key.String())
	b.retired = true
	s.mu.Unlock()
	defer b.mu.Unlock()

	taken := b.entries
	b.entries = nil
	b.flushed += uint64(len(taken))
	if b.flushed != b.added {
		return nil, &ConsistencyError{
			Key:    key,
			Detail: fmt.Sprintf("added %d entries but flushed %d", b.added, b.flushed),
		}
	}

	return &domain.AggregatedPayload{Key: key, Entries: taken}, nil
}

// Keys returns the keys holding at least one entry, oldest window first.
func (s *MemoryStore) Keys(ctx context.Context) ([]domain.AggregationKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	candidates := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		candidates = append(candidates, b)
	}
	s.mu.Unlock()

	keys := make([]domain.AggregationKey, 0, len(candidates))
	for _, b := range candidates {
		b.mu.Lock()
		if len(b.entries) > 0 && !b.retired {
			keys = append(keys, b.key)
		}
		b.mu.Unlock()
	}

	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []domain.AggregationKey) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].Window.Equal(keys[j].Window) {
			return keys[i].Window.Before(keys[j].Window)
		}
		return keys[i].String() < keys[j].String()
	})
}
