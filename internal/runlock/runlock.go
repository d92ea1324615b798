// Package runlock serializes sync runs. Only one run may write to the
// worksheets at a time; a second caller gets ErrBusy instead of waiting.
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when another run holds the lock.
var ErrBusy = errors.New("another sync run is in progress")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out the run lock.
type Locker interface {
	// Acquire returns ErrBusy immediately when the lock is held.
	Acquire(ctx context.Context) (Lease, error)
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

// NewLocal returns an unlocked Local.
func NewLocal() *Local {
	return &Local{}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	return &localLease{mu: &l.mu}, nil
}

type localLease struct {
	once sync.Once
	mu   *sync.Mutex
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(l.mu.Unlock)
	return nil
}
