package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ferreteria/pos/internal/domain"
)

type RedisCustomerCache struct {
	client *redis.Client
}

func NewRedisCustomerCache(addr string, password string, db int) *RedisCustomerCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCustomerCache{client: client}
}

func (c *RedisCustomerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCustomerCache) Close() error {
	return c.client.Close()
}

func customerKey(customerID string) string {
	return "customer:" + customerID
}

func (c *RedisCustomerCache) Get(ctx context.Context, customerID string) (*domain.CustomerAccount, bool, error) {
	val, err := c.client.Get(ctx, customerKey(customerID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var customer domain.CustomerAccount
	if err := json.Unmarshal([]byte(val), &customer); err != nil {
		return nil, false, err
	}
	return &customer, true, nil
}

func (c *RedisCustomerCache) Set(ctx context.Context, customer *domain.CustomerAccount, ttl time.Duration) error {
	if customer == nil {
		return nil
	}
	payload, err := json.Marshal(customer)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, customerKey(customer.ID), payload, ttl).Err()
}

func (c *RedisCustomerCache) Invalidate(ctx context.Context, customerID string) error {
	return c.client.Del(ctx, customerKey(customerID)).Err()
}
