package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "sequencer:lock:"

// compare-and-delete so an expired holder never frees a lease someone else took over
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockUnavailable = errors.New("lock_unavailable")
	ErrInvalidLock     = errors.New("invalid_lock")
)

// Locker hands out short redis leases used to keep singleton work on one
// replica at a time.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// Lock is a held lease. Release is safe to call more than once.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// TryLock returns a nil Lock and nil error when another holder owns name.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockUnavailable
	}
	if name == "" || ttl <= 0 {
		return nil, ErrInvalidLock
	}

	key := lockKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

func (k *Lock) Key() string {
	if k == nil {
		return ""
	}
	return k.key
}

func (k *Lock) Release(ctx context.Context) error {
	if k == nil || k.locker == nil || k.token == "" {
		return nil
	}
	err := k.locker.script.Run(ctx, k.locker.client, []string{k.key}, k.token).Err()
	k.token = ""
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
