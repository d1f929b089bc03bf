package countstore

import (
	"context"
	"errors"
	"time"

	"github.com/guardianbot/guardian/protect"

	"github.com/redis/go-redis/v9"
)

var redisCountPrefix = "guardian/count/"

// reserves ARGV[1] from KEYS[1] unless the total would pass ARGV[2]; ARGV[3] is the bucket TTL in seconds
var takeScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if v > tonumber(ARGV[2]) then
	v = redis.call('DECRBY', KEYS[1], ARGV[1])
	return {0, v}
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, v}
`)

// RedisCountStore shares counters between every process using the same redis.
type RedisCountStore struct {
	Client redis.UniversalClient
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(client redis.UniversalClient) *RedisCountStore {
	return &RedisCountStore{Client: client}
}

func (s *RedisCountStore) GetCount(ctx context.Context, name string, c protect.CommunityID, p Period) (int, error) {
	key := redisCountPrefix + bucketKey(name, c, p, time.Now())
	n, err := s.Client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisCountStore) Add(ctx context.Context, name string, c protect.CommunityID, n int) error {
	now := time.Now()
	// every bucket in a single round-trip
	pipe := s.Client.Pipeline()
	for _, p := range periods {
		key := redisCountPrefix + bucketKey(name, c, p, now)
		pipe.IncrBy(ctx, key, int64(n))
		if r := p.retention(); r > 0 {
			pipe.Expire(ctx, key, r)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCountStore) Take(ctx context.Context, name string, c protect.CommunityID, n, limit int) (bool, int, error) {
	key := redisCountPrefix + bucketKey(name, c, PeriodDay, time.Now())
	res, err := takeScript.Run(ctx, s.Client, []string{key}, n, limit, int(PeriodDay.retention().Seconds())).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, errors.New("unexpected quota script reply")
	}
	return res[0] == 1, int(res[1]), nil
}
