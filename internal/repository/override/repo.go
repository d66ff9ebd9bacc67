package override

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kailas-cloud/entitled/internal/db"
	"github.com/kailas-cloud/entitled/internal/domain"
)

// store is the consumer interface for override grants (ISP).
type store interface {
	PutHash(ctx context.Context, h db.Hash) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	DeleteFields(ctx context.Context, key string, fields ...string) error
}

// Repo implements usecase/entitlement.OverrideStore as one hash:
// identity -> grant time in unix millis.
type Repo struct {
	store store
	key   string
	now   func() time.Time
}

// New creates an override repository.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, key: prefix + "overrides", now: time.Now}
}

// Grant stores an identity with its grant time. Re-granting refreshes the time.
func (r *Repo) Grant(ctx context.Context, identity string) error {
	h := db.Hash{
		Key:    r.key,
		Fields: map[string]string{identity: strconv.FormatInt(r.now().UnixMilli(), 10)},
	}
	if err := r.store.PutHash(ctx, h); err != nil {
		return fmt.Errorf("grant override %s: %w", identity, err)
	}
	return nil
}

// Revoke removes an identity.
func (r *Repo) Revoke(ctx context.Context, identity string) error {
	if err := r.store.DeleteFields(ctx, r.key, identity); err != nil {
		return fmt.Errorf("revoke override %s: %w", identity, err)
	}
	return nil
}

// List returns every stored identity, sorted.
func (r *Repo) List(ctx context.Context) ([]string, error) {
	m, err := r.store.GetHash(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	out := make([]string, 0, len(m))
	for id := range m {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
