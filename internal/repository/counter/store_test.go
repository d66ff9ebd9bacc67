package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/entitled/internal/db/redis"
)

var day = time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)

func TestRecord_PipelinesIncrWithExpireNX(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	key := "entitled:usage:deep_study:trial:daily:2026-04-02"
	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("INCR", key), mock.Match("EXPIRE", key, "172800", "NX")).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.Result(mock.RedisInt64(1)),
		})

	s := New(redis.NewStoreForTest(c), "entitled:", 48*time.Hour)
	if err := s.Record(context.Background(), "deep_study", "trial", day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecord_IncrError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.ErrorResult(context.DeadlineExceeded),
			mock.Result(mock.RedisInt64(0)),
		})

	s := New(redis.NewStoreForTest(c), "entitled:", 48*time.Hour)
	if err := s.Record(context.Background(), "deep_study", "quota", day); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
}

func TestDaily(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "entitled:usage:ai_chat:quota:daily:2026-04-02")).
		Return(mock.Result(mock.RedisBlobString("17")))

	s := New(redis.NewStoreForTest(c), "", 48*time.Hour)
	got, err := s.Daily(context.Background(), "ai_chat", "quota", day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 17 {
		t.Errorf("Daily() = %d, want 17", got)
	}
}

func TestDaily_Missing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "GET" })).
		Return(mock.Result(mock.RedisNil()))

	s := New(redis.NewStoreForTest(c), "entitled:", 48*time.Hour)
	got, err := s.Daily(context.Background(), "ai_chat", "quota", day)
	if err != nil || got != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", got, err)
	}
}

func TestDaily_Garbage(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.Result(mock.RedisBlobString("abc")))

	s := New(redis.NewStoreForTest(c), "entitled:", 48*time.Hour)
	if _, err := s.Daily(context.Background(), "ai_chat", "quota", day); err == nil {
		t.Fatal("expected parse error")
	}
}
