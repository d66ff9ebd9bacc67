package entitlement

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kailas-cloud/entitled/internal/domain"
)

// OverrideTable is the set of identities (user id or email) granted Pro access
// manually. Lookups are case-insensitive.
type OverrideTable struct {
	mu    sync.RWMutex
	set   map[string]struct{}
	store OverrideStore
}

// NewOverrideTable creates a table seeded with identities.
func NewOverrideTable(identities ...string) *OverrideTable {
	t := &OverrideTable{set: make(map[string]struct{}, len(identities))}
	for _, id := range identities {
		if k := normalize(id); k != "" {
			t.set[k] = struct{}{}
		}
	}
	return t
}

// WithStore persists runtime grants.
func (t *OverrideTable) WithStore(s OverrideStore) *OverrideTable {
	t.store = s
	return t
}

// Load merges persisted grants into the table.
func (t *OverrideTable) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	ids, err := t.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if k := normalize(id); k != "" {
			t.set[k] = struct{}{}
		}
	}
	return nil
}

// IsPremium reports whether any key of id is granted.
func (t *OverrideTable) IsPremium(id domain.Identity) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range id.Keys() {
		if _, ok := t.set[normalize(k)]; ok {
			return true
		}
	}
	return false
}

// Grant adds an identity.
func (t *OverrideTable) Grant(ctx context.Context, identity string) error {
	k := normalize(identity)
	if k == "" {
		return fmt.Errorf("%w: identity is required", domain.ErrInvalidRequest)
	}
	if t.store != nil {
		if err := t.store.Grant(ctx, k); err != nil {
			return fmt.Errorf("grant override: %w", err)
		}
	}
	t.mu.Lock()
	t.set[k] = struct{}{}
	t.mu.Unlock()
	return nil
}

// Revoke removes an identity. Returns domain.ErrNotFound if it was not granted.
func (t *OverrideTable) Revoke(ctx context.Context, identity string) error {
	k := normalize(identity)
	t.mu.RLock()
	_, ok := t.set[k]
	t.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}
	if t.store != nil {
		if err := t.store.Revoke(ctx, k); err != nil {
			return fmt.Errorf("revoke override: %w", err)
		}
	}
	t.mu.Lock()
	delete(t.set, k)
	t.mu.Unlock()
	return nil
}

// List returns the granted identities, sorted.
func (t *OverrideTable) List() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.set))
	for k := range t.set {
		out = append(out, k)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
