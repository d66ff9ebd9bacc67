package subscription

import (
	"context"
	"sync"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
)

// Static is an in-memory subscription source seeded from configuration.
type Static struct {
	mu   sync.RWMutex
	subs map[string]subscription.Subscription
}

// NewStatic creates a Static source with the given seed.
func NewStatic(seed ...subscription.Subscription) *Static {
	s := &Static{subs: make(map[string]subscription.Subscription, len(seed))}
	for _, sub := range seed {
		s.subs[sub.UserID()] = sub
	}
	return s
}

// Get returns the user's subscription or domain.ErrNotFound.
func (s *Static) Get(_ context.Context, userID string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[userID]
	if !ok {
		return subscription.Subscription{}, domain.ErrNotFound
	}
	return sub, nil
}

// Save stores the subscription.
func (s *Static) Save(_ context.Context, sub subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID()] = sub
	return nil
}
