package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisKeyPrefix = "rate/"

// RedisLimiter keeps each (user, class) window as a sorted set scored by
// nanosecond timestamps, so admission counts survive restarts and can be
// shared across bot instances.
type RedisLimiter struct {
	client   *redis.Client
	ceilings map[Class]Ceiling
	seq      atomic.Uint64
}

func NewRedisLimiter(ctx context.Context, redisURL string, ceilings map[Class]Ceiling) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, ceilings: ceilings}, nil
}

func (l *RedisLimiter) Admit(ctx context.Context, userID int64, class Class, now time.Time) (Decision, error) {
	ceiling, ok := l.ceilings[class]
	if !ok || ceiling.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf("%s%s/%d", redisKeyPrefix, class, userID)
	cutoff := now.Add(-ceiling.Window).UnixNano()

	multi := l.client.Pipeline()
	multi.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	card := multi.ZCard(ctx, key)
	if _, err := multi.Exec(ctx); err != nil {
		return Decision{}, err
	}

	if card.Val() >= int64(ceiling.Limit) {
		oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return Decision{}, err
		}
		retry := time.Duration(0)
		if len(oldest) > 0 {
			expires := time.Unix(0, int64(oldest[0].Score)).Add(ceiling.Window)
			if d := expires.Sub(now); d > 0 {
				retry = d
			}
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.seq.Add(1))
	multi = l.client.Pipeline()
	multi.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	multi.Expire(ctx, key, ceiling.Window+time.Minute)
	if _, err := multi.Exec(ctx); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true}, nil
}
