package worker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds a SETNX lock per schedule row so that only one worker
// instance executes it.
type RedisLocker struct {
	client *redis.Client
	owner  string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, owner: uuid.New().String()}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.owner, ttl).Result()
}

// Release drops the lock only if this instance still owns it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
