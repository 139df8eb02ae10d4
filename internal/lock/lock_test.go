package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLocal_TryAcquire(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "plays")
	if err != nil {
		t.Fatalf("first TryAcquire() error = %v", err)
	}

	if _, err := l.TryAcquire(ctx, "plays"); !errors.Is(err, ErrHeld) {
		t.Errorf("second TryAcquire() error = %v, want ErrHeld", err)
	}

	// Different names do not contend.
	other, err := l.TryAcquire(ctx, "daily")
	if err != nil {
		t.Fatalf("TryAcquire(daily) error = %v", err)
	}
	other()

	release()
	release() // idempotent

	again, err := l.TryAcquire(ctx, "plays")
	if err != nil {
		t.Fatalf("TryAcquire() after release error = %v", err)
	}
	again()
}

func TestLocal_ConcurrentContenders(t *testing.T) {
	l := NewLocal()
	release, err := l.TryAcquire(context.Background(), "daily")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	defer release()

	var (
		wg      sync.WaitGroup
		refused atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(context.Background(), "daily"); errors.Is(err, ErrHeld) {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := refused.Load(); got != 20 {
		t.Errorf("refused = %d, want 20", got)
	}
}
