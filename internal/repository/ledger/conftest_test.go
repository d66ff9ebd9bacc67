package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/entitled/internal/db"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	putHashFn   func(ctx context.Context, h db.Hash) error
	putHashesFn func(ctx context.Context, hs []db.Hash) error
	getHashFn   func(ctx context.Context, key string) (map[string]string, error)
	getHashesFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	keysFn      func(ctx context.Context, pattern string) ([]string, error)
}

func (m *mockStore) PutHash(ctx context.Context, h db.Hash) error {
	if m.putHashFn != nil {
		return m.putHashFn(ctx, h)
	}
	return nil
}

func (m *mockStore) PutHashes(ctx context.Context, hs []db.Hash) error {
	if m.putHashesFn != nil {
		return m.putHashesFn(ctx, hs)
	}
	return nil
}

func (m *mockStore) GetHash(ctx context.Context, key string) (map[string]string, error) {
	if m.getHashFn != nil {
		return m.getHashFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) GetHashes(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.getHashesFn != nil {
		return m.getHashesFn(ctx, keys)
	}
	return nil, nil
}

func (m *mockStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if m.keysFn != nil {
		return m.keysFn(ctx, pattern)
	}
	return nil, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, "entitled:", 48*time.Hour), ms
}

func testRecord(t *testing.T) *usage.Record {
	t.Helper()
	return &usage.Record{
		UserID:          "u1",
		UsageCount:      3,
		UsageLimit:      5,
		ResetAt:         time.UnixMilli(1767225600000),
		TrialUsed:       map[string]int{"deep_study": 2},
		TrialGlobalUsed: 2,
	}
}
