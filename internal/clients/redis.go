package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"tutorials/backend/internal/bootstrap"
	"tutorials/backend/internal/config"
)

const (
	redisProbeName  = "redis"
	defaultCacheTTL = 5 * time.Minute
	scanBatch       = 100

	// generationTTL must outlive any in-flight read-through.
	generationTTL = 24 * time.Hour
)

// RedisCache is a byte-oriented cache over go-redis. Writes are guarded by
// generation counters so an invalidation cannot be undone by a slow reader.
// Every command goes through the circuit breaker, so a Redis outage degrades
// to cache misses after three failures.
type RedisCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. go-redis dials lazily, so no
// connection is made here.
func NewRedisCache(cfg config.CacheConfig, cb *gobreaker.CircuitBreaker) *RedisCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cb:  cb,
		ttl: ttl,
	}
}

// Get returns the value at key. A missing key is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.cb.Execute(func() (any, error) {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	b, _ := v.([]byte)
	if b == nil {
		return nil, false, nil
	}
	return b, true, nil
}

// setIfGenerations writes KEYS[1] only while every generation key in
// KEYS[2..] still holds the value in ARGV[3..] ("" for unset).
var setIfGenerations = redis.NewScript(`
for i = 2, #KEYS do
  local cur = redis.call('GET', KEYS[i])
  if not cur then cur = '' end
  if cur ~= ARGV[i + 1] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Generations returns the current value of each generation key, "" for
// keys that are unset.
func (c *RedisCache) Generations(ctx context.Context, genKeys ...string) ([]string, error) {
	v, err := c.cb.Execute(func() (any, error) {
		if len(genKeys) == 0 {
			return []any{}, nil
		}
		return c.client.MGet(ctx, genKeys...).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("cache generations: %w", err)
	}
	vals, _ := v.([]any)
	gens := make([]string, len(genKeys))
	for i := range gens {
		if i < len(vals) {
			if s, ok := vals[i].(string); ok {
				gens[i] = s
			}
		}
	}
	return gens, nil
}

// SetIfGenerations stores value at key with the configured TTL, but only if
// no generation key has moved since gens was read. The check and the write
// are one atomic script. It reports whether the value was written.
func (c *RedisCache) SetIfGenerations(ctx context.Context, key string, value []byte, genKeys, gens []string) (bool, error) {
	if len(genKeys) != len(gens) {
		return false, fmt.Errorf("cache set %s: %d generation keys, %d values", key, len(genKeys), len(gens))
	}
	keys := append([]string{key}, genKeys...)
	args := make([]any, 0, 2+len(gens))
	args = append(args, value, c.ttl.Milliseconds())
	for _, g := range gens {
		args = append(args, g)
	}

	v, err := c.cb.Execute(func() (any, error) {
		return setIfGenerations.Run(ctx, c.client, keys, args...).Int()
	})
	if err != nil {
		return false, fmt.Errorf("cache set %s: %w", key, err)
	}
	n, _ := v.(int)
	return n == 1, nil
}

// Invalidate bumps genKey and deletes keys in one MULTI/EXEC, so a reader
// that loaded data before the bump can no longer write it back.
func (c *RedisCache) Invalidate(ctx context.Context, genKey string, keys ...string) error {
	_, err := c.cb.Execute(func() (any, error) {
		return c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(keys) > 0 {
				pipe.Del(ctx, keys...)
			}
			pipe.Incr(ctx, genKey)
			pipe.Expire(ctx, genKey, generationTTL)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("cache invalidate %s: %w", genKey, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix and returns how many
// were deleted. It uses SCAN so it never blocks the server.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	v, err := c.cb.Execute(func() (any, error) {
		deleted := 0
		iter := c.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanBatch {
				n, err := c.client.Del(ctx, batch...).Result()
				if err != nil {
					return deleted, err
				}
				deleted += int(n)
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return deleted, err
		}
		if len(batch) > 0 {
			n, err := c.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		return deleted, nil
	})
	n, _ := v.(int)
	if err != nil {
		return n, fmt.Errorf("cache delete prefix %s: %w", prefix, err)
	}
	return n, nil
}

// Probe sends a PING and validates the PONG response.
func (c *RedisCache) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		val, err := c.client.Ping(ctx).Result()
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	return probeResult(redisProbeName, start, err)
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
