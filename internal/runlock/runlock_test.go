package runlock

import (
	"context"
	"errors"
	"testing"
)

func TestLocalIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	if _, err := l.Acquire(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrBusy", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	// Releasing twice must not unlock someone else's lease.
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}

	again, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if _, err := l.Acquire(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("double release freed the lock: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocalRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewLocal().Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
