package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/schema-registry/pkg/schemaerr"
)

func TestWithLockSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex(time.Second)
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := k.WithLock(context.Background(), "s1", func() error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 1, k.Len())
}

func TestWithLockDistinctKeysRunInParallel(t *testing.T) {
	k := NewKeyedMutex(time.Second)
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = k.WithLock(context.Background(), "a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- k.WithLock(context.Background(), "b", func() error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	close(release)
}

func TestWithLockTimeout(t *testing.T) {
	k := NewKeyedMutex(20 * time.Millisecond)
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = k.WithLock(context.Background(), "s1", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	called := false
	err := k.WithLock(context.Background(), "s1", func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, schemaerr.Is(err, schemaerr.KindLockTimeout))
	assert.False(t, called)
}

func TestWithLockContextCancelled(t *testing.T) {
	k := NewKeyedMutex(time.Minute)
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = k.WithLock(context.Background(), "s1", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := k.WithLock(ctx, "s1", func() error { return nil })
	assert.True(t, schemaerr.Is(err, schemaerr.KindLockTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockReleasesOnError(t *testing.T) {
	k := NewKeyedMutex(50 * time.Millisecond)
	boom := errors.New("boom")
	assert.ErrorIs(t, k.WithLock(context.Background(), "s1", func() error { return boom }), boom)
	assert.NoError(t, k.WithLock(context.Background(), "s1", func() error { return nil }))
}

func TestWithLocks(t *testing.T) {
	k := NewKeyedMutex(50 * time.Millisecond)
	var ran bool
	err := k.WithLocks(context.Background(), []string{"b", "a", "b"}, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, k.WithLock(context.Background(), "a", func() error { return nil }))
	assert.NoError(t, k.WithLock(context.Background(), "b", func() error { return nil }))
}
