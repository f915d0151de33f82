package cron

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrLockHeld means another worker owns the cron lock.
var ErrLockHeld = errors.New("cron lock held by another worker")

// Lock keeps cycles from overlapping across workers.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ProcessLock only excludes goroutines in this process. It is used when
// Redis is not configured and a single worker runs.
type ProcessLock struct {
	mu sync.Mutex
}

func (l *ProcessLock) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *ProcessLock) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
