package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	apperrors "story-summary-ai/pkg/errors"
)

const lockKeyPrefix = "summary:lock:"

// 仅当持有者匹配时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StoryLock 保证同一故事同一时刻只有一个运行
type StoryLock struct {
	client *Client
	ttl    time.Duration
}

// NewStoryLock 创建运行锁，ttl 为 Acquire 未指定过期时间时的默认值
func NewStoryLock(client *Client, ttl time.Duration) *StoryLock {
	return &StoryLock{client: client, ttl: ttl}
}

// Acquire 尝试加锁，ttl <= 0 时使用默认过期时间。
// 成功时返回释放函数；已被占用时返回 ErrTooManyRequests
func (l *StoryLock) Acquire(ctx context.Context, story string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = l.ttl
	}
	key := lockKeyPrefix + story
	ctx, span := tracer.Start(ctx, "lock.Acquire")
	span.SetAttributes(
		attribute.String("redis.key", key),
		attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
	)
	defer span.End()

	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "acquire story lock")
	}
	span.SetAttributes(attribute.Bool("lock.acquired", ok))
	if !ok {
		return nil, apperrors.New(apperrors.CodeTooManyRequests, "story "+story+" is already being summarized")
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeCacheError, "release story lock")
		}
		return nil
	}
	return release, nil
}
