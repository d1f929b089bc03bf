package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerKeyOrdering(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	p := NewScheduler(ctx, 4, 0, "test-ordering", nil)

	var lk sync.Mutex
	seen := make(map[string][]int)
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b", "c"} {
			i, key := i, key
			assert.NoError(p.AddWork(ctx, key, func(ctx context.Context) error {
				lk.Lock()
				seen[key] = append(seen[key], i)
				lk.Unlock()
				return nil
			}))
		}
	}
	p.Shutdown()

	for _, key := range []string{"a", "b", "c"} {
		assert.Len(seen[key], 50)
		for i, v := range seen[key] {
			assert.Equal(i, v)
		}
	}
	assert.Equal(0, p.Pending())
}

func TestSchedulerSerialPerKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	p := NewScheduler(ctx, 8, 0, "test-serial", nil)

	var running, maxRunning int32
	for i := 0; i < 20; i++ {
		assert.NoError(p.AddWork(ctx, "same", func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	p.Shutdown()
	assert.Equal(int32(1), maxRunning)
}

func TestSchedulerBacklogLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	p := NewScheduler(ctx, 1, 2, "test-backlog", nil)

	release := make(chan struct{})
	var ran int32
	block := func(ctx context.Context) error {
		<-release
		atomic.AddInt32(&ran, 1)
		return nil
	}
	assert.NoError(p.AddWork(ctx, "k", block))
	assert.NoError(p.AddWork(ctx, "k", block))
	assert.NoError(p.AddWork(ctx, "k", block))
	err := p.AddWork(ctx, "k", block)
	assert.True(errors.Is(err, ErrQueueFull))

	close(release)
	p.Shutdown()
	assert.Equal(int32(3), ran)
}

func TestSchedulerSurvivesFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	p := NewScheduler(ctx, 2, 0, "test-failures", nil)

	var ran int32
	assert.NoError(p.AddWork(ctx, "k", func(ctx context.Context) error {
		panic("boom")
	}))
	assert.NoError(p.AddWork(ctx, "k", func(ctx context.Context) error {
		return errors.New("failed")
	}))
	assert.NoError(p.AddWork(ctx, "k", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))
	p.Shutdown()
	assert.Equal(int32(1), ran)

	assert.ErrorIs(p.AddWork(ctx, "k", func(ctx context.Context) error { return nil }), ErrShutdown)
}
