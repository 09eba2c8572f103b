package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "voxel:",
	}
}

// RedisKV хранит данные мира в Redis. Позволяет нескольким узлам
// работать с одним миром (изменения рассылаются через Invalidator).
type RedisKV struct {
	client    redis.UniversalClient
	keyPrefix string
	closed    atomic.Bool
}

// OpenRedis подключается к Redis и проверяет соединение
func OpenRedis(ctx context.Context, config *RedisConfig) (*RedisKV, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.For(logging.ComponentStorage).Info("🔴 Connected to Redis at %s", config.Addr)
	return NewRedisKV(client, config.KeyPrefix), nil
}

// NewRedisKV оборачивает готовый клиент
func NewRedisKV(client redis.UniversalClient, keyPrefix string) *RedisKV {
	return &RedisKV{client: client, keyPrefix: keyPrefix}
}

func (r *RedisKV) key(k string) string { return r.keyPrefix + k }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

func (r *RedisKV) Has(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Write выполняет пакет в MULTI/EXEC
func (r *RedisKV) Write(ctx context.Context, batch []Mutation) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range batch {
			if m.IsDelete() {
				pipe.Del(ctx, r.key(m.Key))
			} else {
				pipe.Set(ctx, r.key(m.Key), m.Value, 0)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write batch of %d: %w", len(batch), err)
	}
	return nil
}

// Keys перебирает ключи через SCAN; при изменении базы во время перебора
// ключ может встретиться дважды
func (r *RedisKV) Keys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r.closed.Load() {
			yield("", ErrClosed)
			return
		}
		seen := make(map[string]struct{})
		it := r.client.Scan(ctx, 0, r.key(prefix)+"*", 256).Iterator()
		for it.Next(ctx) {
			k := strings.TrimPrefix(it.Val(), r.keyPrefix)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			if !yield(k, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", fmt.Errorf("failed to scan keys: %w", err))
		}
	}
}

func (r *RedisKV) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
