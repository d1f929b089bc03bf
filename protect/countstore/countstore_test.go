package countstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guardianbot/guardian/protect"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestBucketKeys(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal("violations/7", bucketKey("violations", 7, PeriodTotal, now))
	assert.Equal("violations/7/2024-03-01", bucketKey("violations", 7, PeriodDay, now))
	assert.Equal("violations/7/2024-03-01T23", bucketKey("violations", 7, PeriodHour, now))
	// buckets are always UTC
	est := time.FixedZone("EST", -5*3600)
	assert.Equal("violations/7/2024-03-01", bucketKey("violations", 7, PeriodDay, now.In(est)))
}

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	c, err := cs.GetCount(ctx, "violations-raid", 123, PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)

	assert.NoError(cs.Add(ctx, "violations-raid", 123, 1))
	assert.NoError(cs.Add(ctx, "violations-raid", 123, 2))

	for _, p := range periods {
		c, err = cs.GetCount(ctx, "violations-raid", 123, p)
		assert.NoError(err)
		assert.Equal(3, c, p.String())
	}

	c, err = cs.GetCount(ctx, "violations-raid", 456, PeriodDay)
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemCountStoreRollover(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	cs := NewMemCountStore()
	cs.Clock = func() time.Time { return now }

	assert.NoError(cs.Add(ctx, "actions", 1, 5))
	now = now.Add(time.Hour)

	c, _ := cs.GetCount(ctx, "actions", 1, PeriodDay)
	assert.Equal(0, c)
	c, _ = cs.GetCount(ctx, "actions", 1, PeriodHour)
	assert.Equal(0, c)
	c, _ = cs.GetCount(ctx, "actions", 1, PeriodTotal)
	assert.Equal(5, c)
}

func TestMemCountStoreTake(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cs := NewMemCountStore()

	ok, n, err := cs.Take(ctx, "quota", 1, 3, 5)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(3, n)

	// would overshoot; nothing reserved
	ok, n, err = cs.Take(ctx, "quota", 1, 3, 5)
	assert.NoError(err)
	assert.False(ok)
	assert.Equal(3, n)

	ok, n, _ = cs.Take(ctx, "quota", 1, 2, 5)
	assert.True(ok)
	assert.Equal(5, n)

	// other communities have their own quota
	ok, _, _ = cs.Take(ctx, "quota", 2, 5, 5)
	assert.True(ok)
}

func TestMemCountStoreConcurrentTake(t *testing.T) {
	ctx := context.Background()
	cs := NewMemCountStore()

	var taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := cs.Take(ctx, "quota", 9, 1, 20)
			assert.NoError(t, err)
			if ok {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), taken.Load())
	c, _ := cs.GetCount(ctx, "quota", 9, PeriodDay)
	assert.Equal(t, 20, c)
}

func TestRedisCountStore(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	cs := NewRedisCountStore(redis.NewClient(opt))
	c := protect.CommunityID(time.Now().UnixNano())

	assert.NoError(cs.Add(ctx, "test-redis", c, 2))
	n, err := cs.GetCount(ctx, "test-redis", c, PeriodTotal)
	assert.NoError(err)
	assert.Equal(2, n)

	ok, n, err := cs.Take(ctx, "test-quota", c, 4, 5)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(4, n)
	ok, n, err = cs.Take(ctx, "test-quota", c, 2, 5)
	assert.NoError(err)
	assert.False(ok)
	assert.Equal(4, n)
}
