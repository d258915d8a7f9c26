package store

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is the production Store backend, wired from SIGNALING_REDIS_URL
// (spec §6). Write-if-absent uses Redis's native SETNX; compare-and-delete
// and bounded list append are Lua scripts so each executes as a single
// atomic step on the server, the same guarantee the in-memory Store gets
// for free from its mutex; CompareAndSwap is an optimistic WATCH/MULTI
// transaction retried on conflict.
type Redis struct {
	client *goredis.Client
}

// NewRedis parses url (redis:// or rediss://) and returns a connected Store.
func NewRedis(url string) (*Redis, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: goredis.NewClient(opts)}, nil
}

func (r *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// getDeleteScript atomically fetches then removes key, the compare-and
// -delete primitive spec §4.2 requires for single-use rendezvous claims.
var getDeleteScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
	return false
end
redis.call("DEL", KEYS[1])
return v
`)

func (r *Redis) GetDelete(ctx context.Context, key string) ([]byte, error) {
	res, err := getDeleteScript.Run(ctx, r.client, []string{key}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, ok := res.(string)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(s), nil
}

// casMaxAttempts bounds the optimistic-retry loop backing CompareAndSwap,
// mirroring the "3 attempts" bounded-retry policy spec §4.6/§7 specify for
// transient store contention.
const casMaxAttempts = 3

func (r *Redis) CompareAndSwap(ctx context.Context, key string, update UpdateFunc) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
			current, getErr := tx.Get(ctx, key).Bytes()
			exists := true
			if errors.Is(getErr, goredis.Nil) {
				exists = false
				current = nil
			} else if getErr != nil {
				return getErr
			}

			next, ttl, updErr := update(current, exists)
			if updErr != nil {
				return updErr
			}

			_, txErr := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, next, ttl)
				return nil
			})
			return txErr
		}, key)

		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrCASConflict
}

// listAppendScript appends value to the list at KEYS[1] only if its current
// length is below ARGV[1], then refreshes the key's TTL to ARGV[2] seconds.
// Returns the new length, or -1 if the list was already full.
var listAppendScript = goredis.NewScript(`
local len = redis.call("LLEN", KEYS[1])
if len >= tonumber(ARGV[1]) then
	return -1
end
redis.call("RPUSH", KEYS[1], ARGV[3])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return len + 1
`)

func (r *Redis) ListAppend(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) (int, error) {
	res, err := listAppendScript.Run(ctx, r.client, []string{key}, maxLen, int(ttl.Seconds()), value).Result()
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	if n < 0 {
		return maxLen, ErrListFull
	}
	return int(n), nil
}

func (r *Redis) ListRange(ctx context.Context, key string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *Redis) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
