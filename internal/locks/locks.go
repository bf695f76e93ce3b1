// Package locks provides per-payment mutual exclusion so concurrent callback
// deliveries for the same payment are serialized.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL      = 30 * time.Second
	pollInterval = 50 * time.Millisecond
)

// Redis acquires locks via SETNX with a TTL so a crashed holder cannot wedge
// a payment forever.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "payment_lock:" + key
	for {
		ok, err := l.client.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				l.client.Del(context.Background(), lockKey)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Memory is a process-local locker for tests.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*sync.Mutex)}
}

func (l *Memory) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
