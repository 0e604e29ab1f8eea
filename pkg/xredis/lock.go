package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlock only deletes the key while we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a SETNX lease lock. The ttl bounds how long a crashed holder can
// keep the key.
type Locker struct {
	rdb *redis.Client
	id  string // unique per process
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano()),
	}
}

// TryLock acquires key, or renews it when this process already holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if val != l.id {
		return false, nil
	}
	return true, l.rdb.Expire(ctx, key, ttl).Err()
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	return unlockScript.Run(ctx, l.rdb, []string{key}, l.id).Err()
}

// Acquire takes key with a fresh owner, so two callers in one process exclude
// each other as well. release is nil when ok is false.
func Acquire(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (release func(), ok bool, err error) {
	l := NewLocker(rdb)
	ok, err = l.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		// the request ctx may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(ctx, key)
	}, true, nil
}
