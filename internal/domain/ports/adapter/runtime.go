package adapter

import (
	"context"
	"time"
)

// Clock abstracts wall time so expiration math is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces store-unique ids for entitlements and deduction attempts.
type IDGenerator interface {
	NewID() string
}

// UserLocker serializes chain mutations per user. TryLock returns an opaque
// token that must be presented to Unlock; the lock expires after ttl if the
// holder crashes. Implementations return domain.ErrLockNotAcquired when the
// lock cannot be obtained within their bounded wait.
type UserLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
