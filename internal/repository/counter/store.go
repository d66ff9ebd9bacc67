package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/entitled/internal/db"
	"github.com/kailas-cloud/entitled/internal/domain"
)

// store is the consumer interface for counter operations (ISP).
type store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
}

// Store keeps daily per-feature consumption counters.
type Store struct {
	store  store
	prefix string
	ttl    time.Duration
}

// New creates a counter store. ttl bounds how long a day's counter is kept (recommended: 48h).
func New(s store, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Store{store: s, prefix: prefix, ttl: ttl}
}

func (s *Store) key(featureID, kind string, day time.Time) string {
	return fmt.Sprintf("%susage:%s:%s:daily:%s", s.prefix, featureID, kind, day.Format("2006-01-02"))
}

// Record increments the counter for featureID and kind on the day of at.
func (s *Store) Record(ctx context.Context, featureID, kind string, at time.Time) error {
	if _, err := s.store.Incr(ctx, s.key(featureID, kind, at), s.ttl); err != nil {
		return fmt.Errorf("record %s %s: %w", featureID, kind, err)
	}
	return nil
}

// Daily returns the counter for featureID and kind on day. Missing keys count as 0.
func (s *Store) Daily(ctx context.Context, featureID, kind string, day time.Time) (int64, error) {
	n, err := s.store.Counter(ctx, s.key(featureID, kind, day))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("daily %s %s: %w", featureID, kind, err)
	}
	return n, nil
}
