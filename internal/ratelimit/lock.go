package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still owns it.
// An expired lock that another delivery re-acquired is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	errLockNotConfigured = errors.New("lock client not configured")
	errLockKeyEmpty      = errors.New("lock key is empty")
	errLockTTLInvalid    = errors.New("lock ttl must be positive")
)

// WebhookKey names the per-payment lock for a provider delivery.
func WebhookKey(provider, paymentID string) string {
	return "rebill:lock:" + provider + ":" + paymentID
}

// Locker serializes webhook processing per payment id. A nil Locker is
// valid and means locking is disabled.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

// TryLock attempts to take the lock for ttl. The returned token proves
// ownership and must be handed back to Release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, errLockNotConfigured
	case key == "":
		return "", false, errLockKeyEmpty
	case ttl <= 0:
		return "", false, errLockTTLInvalid
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release frees the lock when token still owns it. Releasing with a
// foreign or stale token is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
