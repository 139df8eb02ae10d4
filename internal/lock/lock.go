// Package lock provides single-flight guards for background jobs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHeld is returned when another run already holds the lock.
var ErrHeld = errors.New("job already running")

// Locker hands out named non-blocking locks. The returned release function must
// be called exactly once.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (release func(), err error)
}

// Local is a process-local Locker.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*sync.Mutex)}
}

// TryAcquire takes the named lock or returns ErrHeld without waiting.
func (l *Local) TryAcquire(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrHeld, name)
	}
	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}
