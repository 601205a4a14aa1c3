package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"MacroPulse/internal/domain/models"
)

// putScript replaces the entry hash at KEYS[1] unless the stored entry is a
// newer observed value.
// ARGV: entry json, as_of unix millis, origin, ttl millis (0 persists).
const putScript = `local cur = redis.call('HMGET', KEYS[1], 'as_of_ms', 'origin')
if cur[1] and cur[2] ~= 'static' and tonumber(cur[1]) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'entry', ARGV[1], 'as_of_ms', ARGV[2], 'origin', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
else
  redis.call('PERSIST', KEYS[1])
end
return 1`

// RedisStore keeps one hash per indicator holding the JSON entry plus the
// fields the conditional write compares. Put runs as a single script.
type RedisStore struct {
	cli    redis.Cmdable
	prefix string
	opts   options
}

// NewRedisStore creates a store using keys prefix+indicatorID.
func NewRedisStore(cli redis.Cmdable, prefix string, opts ...Option) *RedisStore {
	return &RedisStore{cli: cli, prefix: prefix, opts: newOptions(opts)}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Get(ctx context.Context, id string) (models.FallbackEntry, bool, error) {
	s, err := r.cli.HGet(ctx, r.key(id), "entry").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.FallbackEntry{}, false, nil
		}
		return models.FallbackEntry{}, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	var e models.FallbackEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return models.FallbackEntry{}, false, fmt.Errorf("decode fallback %s: %w", id, err)
	}
	if !r.opts.fresh(e) {
		return models.FallbackEntry{}, false, nil
	}
	return e, true, nil
}

// Put stores e unless the current entry is a newer observed value.
func (r *RedisStore) Put(ctx context.Context, id string, e models.FallbackEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode fallback %s: %w", id, err)
	}
	err = r.cli.Eval(ctx, putScript, []string{r.key(id)},
		string(b), e.AsOf.UnixMilli(), e.Origin, r.opts.ttl(e).Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis put %s: %w", id, err)
	}
	return nil
}
