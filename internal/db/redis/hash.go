package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/entitled/internal/db"
)

func (s *Store) hsetCmds(h db.Hash) ([]string, []rueidis.Completed) {
	hset := s.b().Hset().Key(h.Key).FieldValue()
	for k, v := range h.Fields {
		hset = hset.FieldValue(k, v)
	}
	ops := []string{db.OpHSet}
	cmds := []rueidis.Completed{hset.Build()}
	if h.TTL > 0 {
		ops = append(ops, db.OpExpire)
		cmds = append(cmds, s.b().Expire().Key(h.Key).Seconds(seconds(h.TTL)).Build())
	}
	return ops, cmds
}

// PutHash writes HSET and, with a TTL, EXPIRE in one DoMulti.
func (s *Store) PutHash(ctx context.Context, h db.Hash) error {
	if len(h.Fields) == 0 {
		return nil
	}
	ops, cmds := s.hsetCmds(h)
	_, err := s.pipeline(ctx, h.Key, ops, cmds)
	return err
}

// PutHashes writes many hashes in a single round-trip.
func (s *Store) PutHashes(ctx context.Context, hs []db.Hash) error {
	var ops []string
	var cmds []rueidis.Completed
	for _, h := range hs {
		if len(h.Fields) == 0 {
			continue
		}
		o, c := s.hsetCmds(h)
		ops = append(ops, o...)
		cmds = append(cmds, c...)
	}
	if len(cmds) == 0 {
		return nil
	}
	_, err := s.pipeline(ctx, "", ops, cmds)
	return err
}

// GetHash returns all fields of a hash. A missing key yields an empty map.
func (s *Store) GetHash(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.do(ctx, s.b().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Key: key, Err: err}
	}
	return m, nil
}

// GetHashes fetches several hashes in one DoMulti, preserving key order.
func (s *Store) GetHashes(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := make([]map[string]string, len(results))
	for i, res := range results {
		m, err := res.AsStrMap()
		if err != nil {
			return nil, &db.Error{Op: db.OpHGetAll, Key: keys[i], Err: err}
		}
		out[i] = m
	}
	return out, nil
}

// DeleteFields removes fields from a hash. Redis drops the key with its last field.
func (s *Store) DeleteFields(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.do(ctx, s.b().Hdel().Key(key).Field(fields...).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpHDel, Key: key, Err: err}
	}
	return nil
}

// Keys walks SCAN until the cursor wraps.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func seconds(d time.Duration) int64 {
	if s := int64(d / time.Second); s > 0 {
		return s
	}
	return 1
}
