package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error)
	ReleaseLock(ctx context.Context, lock *DistributedLock) error
	ExtendLock(ctx context.Context, lock *DistributedLock, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}

type DistributedLock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type lockRepository struct {
	client *redis.Client
}

func NewLockRepository(client *redis.Client) LockRepository {
	return &lockRepository{
		client: client,
	}
}

const (
	lockPrefix = "lock:"
	lockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

func (r *lockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := lockPrefix + key
	lockValue := uuid.New().String()

	// Try to acquire the lock with SET NX EX
	result, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !result {
		return nil, fmt.Errorf("lock already acquired for key: %s", key)
	}

	return &DistributedLock{
		Key:        lockKey,
		Value:      lockValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, nil
}

func (r *lockRepository) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	// Use Lua script to ensure we only delete our own lock
	result, err := r.client.Eval(ctx, lockScript, []string{lock.Key}, lock.Value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}

	return nil
}

func (r *lockRepository) ExtendLock(ctx context.Context, lock *DistributedLock, ttl time.Duration) error {
	// Check if we still own the lock and extend it
	extendScript := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	result, err := r.client.Eval(ctx, extendScript, []string{lock.Key}, lock.Value, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock not found or not owned: %s", lock.Key)
	}

	lock.TTL = ttl
	return nil
}

func (r *lockRepository) IsLocked(ctx context.Context, key string) (bool, error) {
	lockKey := lockPrefix + key
	exists, err := r.client.Exists(ctx, lockKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock existence: %w", err)
	}

	return exists > 0, nil
}

// AccountLockManager serializes ledger mutations per account across service
// instances.
type AccountLockManager struct {
	lockRepo LockRepository
}

func NewAccountLockManager(lockRepo LockRepository) *AccountLockManager {
	return &AccountLockManager{
		lockRepo: lockRepo,
	}
}

func (m *AccountLockManager) LockAccount(ctx context.Context, userID int64, ttl time.Duration) (*DistributedLock, error) {
	lockKey := fmt.Sprintf("account:%d:mutation", userID)
	return m.lockRepo.AcquireLock(ctx, lockKey, ttl)
}

func (m *AccountLockManager) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	return m.lockRepo.ReleaseLock(ctx, lock)
}

// IdempotencyRepository stores serialized mutation results so a replayed
// request returns the original outcome instead of moving money twice.
type IdempotencyRepository interface {
	SetResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	GetResult(ctx context.Context, key string) ([]byte, bool, error)
	DeleteKey(ctx context.Context, key string) error
}

type idempotencyRepository struct {
	client *redis.Client
}

func NewIdempotencyRepository(client *redis.Client) IdempotencyRepository {
	return &idempotencyRepository{
		client: client,
	}
}

const idempotencyPrefix = "idempotency:"

func (r *idempotencyRepository) SetResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	idempotencyKey := idempotencyPrefix + key

	err := r.client.Set(ctx, idempotencyKey, payload, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set idempotency key: %w", err)
	}

	return nil
}

func (r *idempotencyRepository) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	idempotencyKey := idempotencyPrefix + key

	result, err := r.client.Get(ctx, idempotencyKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get idempotency result: %w", err)
	}

	return result, true, nil
}

func (r *idempotencyRepository) DeleteKey(ctx context.Context, key string) error {
	idempotencyKey := idempotencyPrefix + key

	err := r.client.Del(ctx, idempotencyKey).Err()
	if err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}

	return nil
}
