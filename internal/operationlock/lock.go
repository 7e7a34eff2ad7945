// Package operationlock provides mutual exclusion for mutating calls against
// one remote repository.
//
// Locks are keyed by repository identity (endpoint profile plus name) and live
// only in memory:
// - Two holders of the same key never overlap
// - Different keys never block each other
// - Waiting is bounded by the caller's context
package operationlock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

var (
	// ErrLockHeld indicates the key is held by another operation.
	ErrLockHeld = errors.New("operation lock is held by another operation")
)

// HeldError provides structured information when a lock cannot be acquired.
type HeldError struct {
	Key    snapshotrepo.Identity
	Holder string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: repository=%q holder=%q", ErrLockHeld, e.Key.String(), e.Holder)
}

func (e *HeldError) Unwrap() error {
	return ErrLockHeld
}

type entry struct {
	// token has capacity one; holding the lock means having sent into it.
	token  chan struct{}
	holder string
	refs   int
}

// Locker hands out per-identity locks. The zero value is not usable; use New.
type Locker struct {
	mu      sync.Mutex
	entries map[snapshotrepo.Identity]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[snapshotrepo.Identity]*entry)}
}

func (l *Locker) ref(key snapshotrepo.Identity) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key snapshotrepo.Identity, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Locker) setHolder(e *entry, holder string) {
	l.mu.Lock()
	e.holder = holder
	l.mu.Unlock()
}

// Acquire blocks until key is free or ctx is done. The returned release
// function must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, key snapshotrepo.Identity, holder string) (func(), error) {
	e := l.ref(key)

	select {
	case e.token <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("waiting for lock on %s: %w", key.String(), ctx.Err())
	}

	l.setHolder(e, holder)
	return l.releaser(key, e), nil
}

// TryAcquire takes key without waiting. It returns a *HeldError when the key
// is already held.
func (l *Locker) TryAcquire(key snapshotrepo.Identity, holder string) (func(), error) {
	e := l.ref(key)

	select {
	case e.token <- struct{}{}:
	default:
		l.mu.Lock()
		current := e.holder
		l.mu.Unlock()
		l.unref(key, e)
		return nil, &HeldError{Key: key, Holder: current}
	}

	l.setHolder(e, holder)
	return l.releaser(key, e), nil
}

func (l *Locker) releaser(key snapshotrepo.Identity, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.setHolder(e, "")
			<-e.token
			l.unref(key, e)
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
