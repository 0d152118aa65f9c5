// Package locks serializes mutations per schema.
package locks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kubeflow/schema-registry/pkg/schemaerr"
)

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// MultiLocker also takes several keys at once.
type MultiLocker interface {
	Locker
	WithLocks(ctx context.Context, keys []string, fn func() error) error
}

// DefaultTimeout bounds lock acquisition when none is configured.
const DefaultTimeout = 10 * time.Second

// KeyedMutex hands out one mutex per key. Mutexes are created on first use
// and never removed, so the map grows with the number of distinct schemas.
//
// Locks are not reentrant: a goroutine holding key must not call WithLock
// for the same key again.
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewKeyedMutex creates a KeyedMutex whose acquisitions give up after
// timeout. A non-positive timeout uses DefaultTimeout.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeyedMutex{slots: map[string]chan struct{}{}, timeout: timeout}
}

func (k *KeyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

func (k *KeyedMutex) acquire(ctx context.Context, key string) (func(), error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	default:
	}

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, schemaerr.LockTimeout(key, nil)
	case <-ctx.Done():
		return nil, schemaerr.LockTimeout(key, ctx.Err())
	}
}

// WithLock runs fn while holding key's lock. The lock is released after fn
// returns, so any transaction fn runs has committed or rolled back by then.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	release, err := k.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// WithLocks acquires several keys in sorted order and runs fn while holding
// all of them.
func (k *KeyedMutex) WithLocks(ctx context.Context, keys []string, fn func() error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue
		}
		last = key
		release, err := k.acquire(ctx, key)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}
	return fn()
}

// Len returns the number of keys that have ever been locked.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
