package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jetsetgo/travelpay/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client     *redis.Client
	sessionTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, sessionTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		sessionTTL: sessionTTL,
	}
}

// AcquireCallbackLock guards a payment against two concurrent redirect
// deliveries racing each other into a double capture.
func (c *RedisCache) AcquireCallbackLock(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, callbackLockKey(paymentID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseCallbackLock(ctx context.Context, paymentID string) error {
	return c.client.Del(ctx, callbackLockKey(paymentID)).Err()
}

func (c *RedisCache) SetSessionPayment(ctx context.Context, sessionID, paymentID string) error {
	return c.client.Set(ctx, sessionKey(sessionID), paymentID, c.sessionTTL).Err()
}

func (c *RedisCache) GetSessionPayment(ctx context.Context, sessionID string) (string, error) {
	paymentID, err := c.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return paymentID, nil
}

func callbackLockKey(paymentID string) string {
	return fmt.Sprintf("lock:payment:%s:callback", paymentID)
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("checkout:session:%s", sessionID)
}
