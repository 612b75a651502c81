package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPoolSize    = 10
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
)

// Config holds connection settings for Open.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Option configures a Redis store.
type Option func(*Redis)

// WithTimeout bounds every store call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Redis) {
		r.timeout = d
	}
}

// WithLogger sets the logger used for command failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Redis) {
		r.logger = logger
	}
}

// Redis adapts a go-redis client to the operations the limiters need.
// Missing keys are reported as absent values, never as errors.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedis wraps an existing client. The caller keeps ownership of its lifecycle
// unless Close is called on the returned store.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{
		client: client,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Open dials Redis and verifies it answers a PING.
// The client never retries on its own: a failed command fails the call.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Redis, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultIOTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultIOTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   -1,
	})

	r := NewRedis(client, opts...)

	if err := r.Ping(ctx); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("open %s: %w", cfg.Addr, err)
	}

	return r, nil
}

// Client exposes the underlying client for components sharing the connection pool.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return r.fail("ping", "", r.client.Ping(ctx).Err())
}

// Get reads an integer value. ok is false when the key does not exist.
func (r *Redis) Get(ctx context.Context, key string) (value int64, ok bool, err error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	value, err = r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, r.fail("get", key, err)
	}

	return value, true, nil
}

// MGet reads several integer values in one round trip. Missing keys read as zero.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([]int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, r.fail("mget", "", err)
	}

	values := make([]int64, len(raw))

	for i, v := range raw {
		n, err := toInt64(v)
		if err != nil {
			return nil, r.fail("mget", keys[i], err)
		}

		values[i] = n
	}

	return values, nil
}

// Set writes a value with an optional expiration (zero keeps it forever).
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return r.fail("set", key, r.client.Set(ctx, key, value, ttl).Err())
}

// IncrBy adds delta and returns the new value.
func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.IncrBy(ctx, key, delta).Result()

	return n, r.fail("incrby", key, err)
}

// DecrBy subtracts delta and returns the new value.
func (r *Redis) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.DecrBy(ctx, key, delta).Result()

	return n, r.fail("decrby", key, err)
}

// Expire sets a key's time to live.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return r.fail("expire", key, r.client.Expire(ctx, key, ttl).Err())
}

// ZAdd inserts member with score into a sorted set.
func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return r.fail("zadd", key, r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ZRemRangeByScore removes members scored within [min, max] and returns how many went.
func (r *Redis) ZRemRangeByScore(ctx context.Context, key, minScore, maxScore string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.ZRemRangeByScore(ctx, key, minScore, maxScore).Result()

	return n, r.fail("zremrangebyscore", key, err)
}

// ZCard returns the cardinality of a sorted set (0 when absent).
func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.ZCard(ctx, key).Result()

	return n, r.fail("zcard", key, err)
}

// ZCount counts members scored within [min, max]; bounds accept the "(" exclusive prefix.
func (r *Redis) ZCount(ctx context.Context, key, minScore, maxScore string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.ZCount(ctx, key, minScore, maxScore).Result()

	return n, r.fail("zcount", key, err)
}

// RPush appends values to the tail of a list and returns its new length.
func (r *Redis) RPush(ctx context.Context, key string, values ...any) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.RPush(ctx, key, values...).Result()

	return n, r.fail("rpush", key, err)
}

// LPush prepends values to the head of a list and returns its new length.
func (r *Redis) LPush(ctx context.Context, key string, values ...any) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.LPush(ctx, key, values...).Result()

	return n, r.fail("lpush", key, err)
}

// LTrim keeps only the elements between start and stop, inclusive.
func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	return r.fail("ltrim", key, r.client.LTrim(ctx, key, start, stop).Err())
}

// LLen returns the length of a list (0 when absent).
func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.LLen(ctx, key).Result()

	return n, r.fail("llen", key, err)
}

// LPos returns the index of the rank-th occurrence of value. ok is false when not found.
func (r *Redis) LPos(ctx context.Context, key, value string, rank int64) (index int64, ok bool, err error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	index, err = r.client.LPos(ctx, key, value, redis.LPosArgs{Rank: rank}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, r.fail("lpos", key, err)
	}

	return index, true, nil
}

// Atomic queues the commands issued by fn and runs them in one MULTI/EXEC block.
// A missing key on an individual command is not an error; callers inspect each Cmder.
func (r *Redis) Atomic(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	cmds, err := r.client.TxPipelined(ctx, fn)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, r.fail("multi", "", err)
	}

	return cmds, nil
}

// Run executes a Lua script atomically, loading it on first use.
// A nil script reply is returned as a nil value.
func (r *Redis) Run(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := script.Run(ctx, r.client, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		key := ""
		if len(keys) > 0 {
			key = keys[0]
		}

		return nil, r.fail("eval", key, err)
	}

	return res, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Shutdown closes the store when the application stops.
func (r *Redis) Shutdown() error {
	return r.Close()
}

func (r *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) fail(op, key string, err error) error {
	if err == nil {
		return nil
	}

	err = classify(op, err)

	r.logger.Debug("store operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)

	return err
}
