// Package entitylock serializes state transitions per workflow entity.
package entitylock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var ErrNotAcquired = errors.New("entity_lock_not_acquired")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker grants at most one holder per key at a time.
type Locker interface {
	// Lock blocks until the key is free or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock returns ErrNotAcquired when another holder has the key.
	TryLock(ctx context.Context, key string) (Unlock, error)
}

func Key(kind string, id snowflake.ID) string {
	return fmt.Sprintf("procura:lock:%s:%d", kind, id)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) dropSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) unlockFunc(key string, s *slot) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.dropSlot(key, s)
		})
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlockFunc(key, s), nil
	case <-ctx.Done():
		l.dropSlot(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (Unlock, error) {
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlockFunc(key, s), nil
	default:
		l.dropSlot(key, s)
		return nil, ErrNotAcquired
	}
}
