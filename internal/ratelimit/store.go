package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Store is the subset of the store adapter the limiters rely on.
// Decisions that mutate state always go through Run so they execute as one atomic script.
type Store interface {
	Run(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	Atomic(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Get(ctx context.Context, key string) (value int64, ok bool, err error)
	MGet(ctx context.Context, keys ...string) ([]int64, error)
	ZCount(ctx context.Context, key, minScore, maxScore string) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)
	LPos(ctx context.Context, key, value string, rank int64) (index int64, ok bool, err error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}
