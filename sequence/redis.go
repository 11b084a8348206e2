package sequence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// allocateScript lifts the counter to the floor when it is absent or below it, then
// increments it, as one script so no other command can interleave.
var allocateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  cur = tonumber(cur)
  if not cur then
    return redis.error_reply('ERR counter value is not an integer')
  end
end
if (not cur) or cur < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[1])
end
return redis.call('INCR', KEYS[1])
`)

// RedisStore keeps each counter in a Redis string key.
// Durability follows the server's persistence settings; run with appendfsync always.
type RedisStore struct {
	client *redis.Client
	prefix string
	floor  int64
}

func NewRedisStore(client *redis.Client, prefix string, floor int64) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, floor: floor}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + "sequence:" + name
}

func (s *RedisStore) Allocate(ctx context.Context, name string) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	v, err := allocateScript.Run(ctx, s.client, []string{s.key(name)}, s.floor).Int64()
	if err != nil {
		// A reply error means the key holds something other than a counter.
		var replyErr redis.Error
		if errors.As(err, &replyErr) {
			return 0, ConstraintViolation(name, err)
		}
		return 0, Unavailable(name, err)
	}
	return v, nil
}

func (s *RedisStore) Current(ctx context.Context, name string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(name)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCounterNotFound
		}
		return 0, err
	}
	return v, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
