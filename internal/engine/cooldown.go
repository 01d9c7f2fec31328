package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"wifiwatch/internal/config"
)

// Suppressor tracks when an alert key last fired. Check never records;
// Mark is called only once the alert is in the ledger, so a failed append
// leaves the key free for the next pass.
type Suppressor interface {
	Check(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	Mark(ctx context.Context, key string, cooldown time.Duration) error
}

type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown(now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{last: make(map[string]time.Time), now: now}
}

func (c *Cooldown) Check(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false, nil
	}
	return true, nil
}

func (c *Cooldown) Mark(_ context.Context, key string, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = now
	if len(c.last) > 10000 {
		for k, ts := range c.last {
			if now.Sub(ts) >= cooldown {
				delete(c.last, k)
			}
		}
	}
	return nil
}

// RedisCooldown shares cooldown state between processes. Keys expire with
// the cooldown, so presence alone means suppressed.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) Check(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *RedisCooldown) Mark(ctx context.Context, key string, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+key, time.Now().UTC().Unix(), cooldown).Err()
}

func (r *RedisCooldown) Close() error {
	return r.client.Close()
}

// NewSuppressor builds the configured backend.
func NewSuppressor(cfg config.CooldownConfig, now func() time.Time) Suppressor {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedisCooldown(client, cfg.KeyPrefix)
	}
	return NewCooldown(now)
}
