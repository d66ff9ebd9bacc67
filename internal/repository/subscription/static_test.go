package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
)

func TestStatic_Seed(t *testing.T) {
	s := NewStatic(
		subscription.New("u1", subscription.StatusPro, tier.Pro, nil),
		subscription.New("u2", subscription.StatusTrial, tier.Trial, nil),
	)

	sub, err := s.Get(context.Background(), "u2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Tier() != tier.Trial || sub.Status() != subscription.StatusTrial {
		t.Errorf("unexpected subscription: %q %q", sub.Tier(), sub.Status())
	}

	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatic_SaveReplaces(t *testing.T) {
	s := NewStatic(subscription.New("u1", subscription.StatusFree, tier.Free, nil))
	ctx := context.Background()

	if err := s.Save(ctx, subscription.New("u1", subscription.StatusPro, tier.Pro, nil)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sub, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Tier() != tier.Pro {
		t.Errorf("Tier() = %q, want %q", sub.Tier(), tier.Pro)
	}
}
