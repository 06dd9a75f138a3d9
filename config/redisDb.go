package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the shared client and lock client. A nil *Redis is valid and
// behaves as an always-empty cache so callers can run without redis.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
}

func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		return nil
	}
	return &Redis{client: client, locker: redislock.New(client)}
}

func (r *Redis) Client() *redis.Client {
	if r == nil {
		return nil
	}
	return r.client
}

func (r *Redis) Locker() *redislock.Client {
	if r == nil {
		return nil
	}
	return r.locker
}

func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if r == nil {
		return false, nil
	}
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) GetValue(ctx context.Context, key string) (string, bool, error) {
	if r == nil {
		return "", false, nil
	}
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) SetObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if r == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, objInByte, exp).Err()
}

func (r *Redis) SetValue(ctx context.Context, key string, value string, exp time.Duration) error {
	if r == nil {
		return nil
	}
	return r.client.Set(ctx, key, value, exp).Err()
}

// Touch pushes the key's expiry forward; reports false when the key is gone.
func (r *Redis) Touch(ctx context.Context, key string, exp time.Duration) (bool, error) {
	if r == nil {
		return false, nil
	}
	return r.client.Expire(ctx, key, exp).Result()
}

func (r *Redis) RemoveKey(ctx context.Context, keys ...string) error {
	if r == nil || len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	if r == nil {
		return 0, nil
	}
	return r.client.Incr(ctx, key).Result()
}

// store key in a set for faster adding & retrieving
func (r *Redis) AddSet(ctx context.Context, setKey string, member string) error {
	if r == nil {
		return nil
	}
	return r.client.SAdd(ctx, setKey, member).Err()
}

func (r *Redis) GetSetMembers(ctx context.Context, setKey string) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	return r.client.SMembers(ctx, setKey).Result()
}

func (r *Redis) RemoveSetMember(ctx context.Context, setKey string, member string) error {
	if r == nil {
		return nil
	}
	return r.client.SRem(ctx, setKey, member).Err()
}

// ConnectRedisWithRetry connects the shared client. An empty address disables
// redis and returns (nil, nil); callers fall back to in-process stores.
func ConnectRedisWithRetry(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		log.Printf("REDIS_ADDRESS not set; running without redis")
		return nil, nil
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       0, // use default DB
			PoolSize: cfg.PoolSize,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, cfg.Address)
			return NewRedis(rdb), nil
		}
		_ = rdb.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, cfg.Address, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect redis: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}
