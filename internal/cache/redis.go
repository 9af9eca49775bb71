package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisEntry mirrors the disk layout so both durable tiers are
// interchangeable.
type redisEntry struct {
	Value     interface{} `json:"value"`
	Timestamp float64     `json:"timestamp"`
	TTL       float64     `json:"ttl"`
}

// RedisTier is an alternative durable tier backed by Redis, for deployments
// where the cache must survive process restarts without local disk.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier wraps an already-connected client. Keys are namespaced with
// prefix to keep the cache apart from other users of the same database.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = "result_cache"
	}
	return &RedisTier{client: client, prefix: prefix}
}

func (r *RedisTier) key(key string) string {
	return r.prefix + ":" + key
}

// Get reads the entry for key.
func (r *RedisTier) Get(key string) (Entry, bool) {
	data, err := r.client.Get(context.Background(), r.key(key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return Entry{}, false
	}
	return Entry{
		Value:     re.Value,
		CreatedAt: time.Unix(0, int64(re.Timestamp*float64(time.Second))),
		TTL:       time.Duration(re.TTL * float64(time.Second)),
	}, true
}

// Set stores the entry. Redis expiry doubles as a safety net on top of the
// cache's own TTL check.
func (r *RedisTier) Set(key string, e Entry) error {
	data, err := json.Marshal(redisEntry{
		Value:     e.Value,
		Timestamp: float64(e.CreatedAt.UnixNano()) / float64(time.Second),
		TTL:       e.TTL.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := r.client.Set(context.Background(), r.key(key), data, e.TTL).Err(); err != nil {
		return fmt.Errorf("writing cache entry to redis: %w", err)
	}
	return nil
}

// Delete removes the key.
func (r *RedisTier) Delete(key string) {
	_ = r.client.Del(context.Background(), r.key(key)).Err()
}

var _ DurableTier = (*RedisTier)(nil)
