package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

// unlockScript deletes the lock only when this instance still holds it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Lock is an expiring advisory lock keyed by task name. It coordinates
// collection and evaluation cycles across process instances: the holder
// runs the cycle, everyone else skips it. Expiry guards against a crashed
// holder wedging the task forever.
type Lock struct {
	store      *Store
	instanceID string
	ttl        time.Duration
}

func NewLock(store *Store, ttl time.Duration) *Lock {
	hostname, _ := os.Hostname()
	return &Lock{
		store:      store,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		ttl:        ttl,
	}
}

func lockKey(task string) string { return "lock:opsplane:" + task }

// TryAcquire attempts to take the lock without blocking. A false return
// means another instance holds it.
func (l *Lock) TryAcquire(ctx context.Context, task string) (bool, error) {
	acquired, err := l.store.client.SetNX(ctx, lockKey(task), l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", task, err)
	}
	return acquired, nil
}

// Release frees the lock if this instance still holds it. Releasing a
// lock held by someone else is a no-op.
func (l *Lock) Release(ctx context.Context, task string) error {
	if err := l.store.client.Eval(ctx, unlockScript, []string{lockKey(task)}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", task, err)
	}
	return nil
}

// WithLock runs fn under the lock. When the lock is held elsewhere the
// call returns nil without running fn; another instance is executing the
// task and skipping is the intended outcome.
func (l *Lock) WithLock(ctx context.Context, task string, fn func() error) error {
	acquired, err := l.TryAcquire(ctx, task)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debugf("lock %s held by another instance, skipping", task)
		return nil
	}
	defer func() {
		if err := l.Release(ctx, task); err != nil {
			logger.Errorf("failed to release lock %s: %v", task, err)
		}
	}()

	return fn()
}
