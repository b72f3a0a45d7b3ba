package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/speles7172/lahak/internal/core/domain"
)

const (
	leaseKeyPrefix   = "lease:"
	defaultLeaseTTL  = 5 * time.Second
	acquirePollDelay = 25 * time.Millisecond
)

// Release only deletes the lease while it still belongs to the caller's
// token, so an expired lease taken over by another writer is left alone.
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLockManager holds the per-cell critical section across processes as
// a SET NX PX lease. The TTL bounds how long a crashed holder can block a
// cell; the wait window bounds how long a contender polls before failing
// with the retryable busy error.
type RedisLockManager struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLockManager(client *redis.Client, ttl, wait time.Duration) *RedisLockManager {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLockManager{client: client, ttl: ttl, wait: wait}
}

func (r *RedisLockManager) Acquire(ctx context.Context, key string) (func(), error) {
	leaseKey := leaseKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, leaseKey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire lease %s", key)
		}
		if ok {
			release := func() {
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseLeaseScript.Run(rctx, r.client, []string{leaseKey}, token).Err()
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBusy, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollDelay):
		}
	}
}
