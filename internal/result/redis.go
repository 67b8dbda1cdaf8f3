package result

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/pkg/value"
)

// RedisConfig 描述 Redis 结果存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// hashClient 是 RedisStore 用到的最小命令集合，*redis.Client 天然满足。
type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisBackend 共享一个连接，为每次运行创建独立的哈希。
type RedisBackend struct {
	client hashClient
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisBackend 连接 Redis 并校验可用性。
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisBackend(client, client.Close, cfg.Prefix, cfg.TTL), nil
}

func newRedisBackend(client hashClient, closer func() error, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "stepwise:results"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisBackend{client: client, closer: closer, prefix: prefix, ttl: ttl}
}

// Factory 返回为每次运行创建 RedisStore 的工厂。
func (b *RedisBackend) Factory() Factory {
	return func(taskID string) (Store, error) {
		if taskID == "" {
			return nil, errors.New("task id 不能为空")
		}
		return &RedisStore{client: b.client, key: b.prefix + ":" + taskID, ttl: b.ttl}, nil
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBackend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

// RedisStore 将一次运行的结果写入同一个哈希，值编码为 JSON。
// 经过序列化后取回的是相等的值，而不是同一个值。
type RedisStore struct {
	client hashClient
	key    string
	ttl    time.Duration
}

// Put 实现 Store。
func (s *RedisStore) Put(ctx context.Context, stepNumber int, v value.Value) error {
	encoded, err := v.MarshalJSON()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码步骤结果失败")
	}
	if err := s.client.HSet(ctx, s.key, Key(stepNumber), string(encoded)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入步骤结果失败")
	}
	// TTL 只是兜底，正常情况下运行结束时会 Discard。
	if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置过期时间失败")
	}
	return nil
}

// Get 实现 Store。
func (s *RedisStore) Get(ctx context.Context, stepNumber int) (value.Value, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, Key(stepNumber)).Result()
	if errors.Is(err, redis.Nil) {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取步骤结果失败")
	}
	v, err := value.Parse([]byte(raw))
	if err != nil {
		return value.Null(), false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤结果失败")
	}
	return v, true, nil
}

// Discard 实现 Store。
func (s *RedisStore) Discard(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除运行结果失败")
	}
	return nil
}
