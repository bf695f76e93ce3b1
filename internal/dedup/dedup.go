// Package dedup suppresses duplicate callback deliveries. A delivery is
// recorded only after it has been authenticated, so a rejected request can
// never claim the key of a genuine one.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CallbackTTL bounds how long a delivery suppresses identical retries.
const CallbackTTL = 2 * time.Minute

// Deduper records seen deliveries. Seen reports whether the key was already
// recorded and records it otherwise.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key derives the dedup key for a delivery from its request path and raw
// body, so distinct notifications never collide.
func Key(path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Redis records deliveries via SETNX with a TTL.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (d *Redis) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := d.client.SetNX(ctx, "callback_seen:"+key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Memory is a process-local deduper for tests.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]time.Time)}
}

func (d *Memory) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return true, nil
	}
	d.seen[key] = now.Add(ttl)
	return false, nil
}
