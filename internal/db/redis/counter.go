package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/entitled/internal/db"
)

// Incr pipelines INCR with EXPIRE NX so repeated increments keep the first TTL.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ops := []string{db.OpIncr}
	cmds := []rueidis.Completed{s.b().Incr().Key(key).Build()}
	if ttl > 0 {
		ops = append(ops, db.OpExpire)
		cmds = append(cmds, s.b().Expire().Key(key).Seconds(seconds(ttl)).Nx().Build())
	}

	results, err := s.pipeline(ctx, key, ops, cmds)
	if err != nil {
		return 0, err
	}
	n, err := results[0].AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpIncr, Key: key, Err: err}
	}
	return n, nil
}

// Counter reads an integer counter.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	data, err := s.do(ctx, s.b().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, db.ErrKeyNotFound
		}
		return 0, &db.Error{Op: db.OpGet, Key: key, Err: err}
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
