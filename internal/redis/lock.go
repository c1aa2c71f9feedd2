package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock key prefixes.
const (
	orderLockPrefix       = "lock:order:"
	transactionLockPrefix = "lock:txn:"
)

// releaseScript deletes the key only when it still holds the caller's token, so an expired
// lock taken over by another holder is never released by the previous one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockNotHeld is returned by Release when the lock expired or belongs to someone else.
var ErrLockNotHeld = errors.New("lock not held")

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// OrderLockKey is the lock serialising payment initiation for one order.
func OrderLockKey(orderID string) string {
	return orderLockPrefix + orderID
}

// TransactionLockKey is the lock serialising reconciliation of one payment transaction.
func TransactionLockKey(transactionID string) string {
	return transactionLockPrefix + transactionID
}

// Acquire attempts to take the lock at key.
// Returns the holder token and true if acquired, or false if the lock is already held.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (s *LockStore) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
