package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/entitled/internal/db"
	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
)

// store is the consumer interface for ledger snapshots (ISP).
type store interface {
	PutHash(ctx context.Context, h db.Hash) error
	PutHashes(ctx context.Context, hs []db.Hash) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	GetHashes(ctx context.Context, keys []string) ([]map[string]string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements usecase/ledger.SnapshotStore on top of Redis hashes.
type Repo struct {
	store  store
	prefix string
	ttl    time.Duration
}

// New creates a ledger snapshot repository. Snapshots expire after ttl
// without writes; ttl <= 0 keeps them forever.
func New(s store, prefix string, ttl time.Duration) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, prefix: prefix, ttl: ttl}
}

func (r *Repo) key(userID string) string {
	return r.prefix + "ledger:" + userID
}

// Load returns the stored record for a user or domain.ErrNotFound.
func (r *Repo) Load(ctx context.Context, userID string) (*usage.Record, error) {
	m, err := r.store.GetHash(ctx, r.key(userID))
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", userID, err)
	}
	if len(m) == 0 {
		return nil, domain.ErrNotFound
	}
	rec, err := recordFromHash(m)
	if err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", userID, err)
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	return rec, nil
}

func (r *Repo) hash(rec *usage.Record) (db.Hash, error) {
	fields, err := recordToHash(rec)
	if err != nil {
		return db.Hash{}, err
	}
	return db.Hash{Key: r.key(rec.UserID), Fields: fields, TTL: r.ttl}, nil
}

// Save writes a record and refreshes its TTL.
func (r *Repo) Save(ctx context.Context, rec *usage.Record) error {
	h, err := r.hash(rec)
	if err != nil {
		return err
	}
	if err := r.store.PutHash(ctx, h); err != nil {
		return fmt.Errorf("save ledger %s: %w", rec.UserID, err)
	}
	return nil
}

// SaveAll writes records in one pipelined round-trip.
func (r *Repo) SaveAll(ctx context.Context, recs []*usage.Record) error {
	if len(recs) == 0 {
		return nil
	}
	hs := make([]db.Hash, 0, len(recs))
	for _, rec := range recs {
		h, err := r.hash(rec)
		if err != nil {
			return err
		}
		hs = append(hs, h)
	}
	if err := r.store.PutHashes(ctx, hs); err != nil {
		return fmt.Errorf("save ledger batch: %w", err)
	}
	return nil
}

// LoadAll returns every stored record. Undecodable rows are skipped.
func (r *Repo) LoadAll(ctx context.Context) ([]*usage.Record, error) {
	keys, err := r.store.Keys(ctx, r.prefix+"ledger:*")
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := r.store.GetHashes(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load ledger batch: %w", err)
	}

	out := make([]*usage.Record, 0, len(rows))
	for i, m := range rows {
		if len(m) == 0 {
			continue
		}
		rec, err := recordFromHash(m)
		if err != nil {
			continue
		}
		if rec.UserID == "" {
			rec.UserID = strings.TrimPrefix(keys[i], r.prefix+"ledger:")
		}
		out = append(out, rec)
	}
	return out, nil
}
