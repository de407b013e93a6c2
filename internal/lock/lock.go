// Package lock serializes mutations of a single account.
package lock

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("lock_timeout")

// Unlock releases a held lock. It is safe to call once.
type Unlock func()

// Locker grants exclusive access per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func AccountKey(userID string) string {
	return "luc:account:lock:" + userID
}
