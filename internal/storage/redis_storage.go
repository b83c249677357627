package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/ton-confirmer/config"
)

const (
	progressKeyPrefix = "progress:"
	ProgressTTL       = time.Hour
)

var ErrProgressNotFound = errors.New("progress not found")

// Progress is the last reported state of a background confirmation.
type Progress struct {
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
	State     string `json:"state"`
	Attempts  int    `json:"attempts,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(cfg config.RedisConfig) (*RedisStorage, error) {
	opts, err := cfg.GetRedisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		client: client,
	}, nil
}

func NewRedisStorageFromClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Client exposes the connection for stores sharing it.
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.client.Get(ctx, key).Result()
}

func (r *RedisStorage) Set(ctx context.Context, key string, value string, expiry time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Set(ctx, key, value, expiry).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func ProgressKey(hash string) string {
	return progressKeyPrefix + hash
}

func (r *RedisStorage) SetProgress(ctx context.Context, hash string, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return r.Set(ctx, ProgressKey(hash), string(data), ProgressTTL)
}

func (r *RedisStorage) GetProgress(ctx context.Context, hash string) (Progress, error) {
	raw, err := r.Get(ctx, ProgressKey(hash))
	if errors.Is(err, redis.Nil) {
		return Progress{}, ErrProgressNotFound
	}
	if err != nil {
		return Progress{}, fmt.Errorf("failed to read progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Progress{}, fmt.Errorf("failed to decode progress: %w", err)
	}
	return p, nil
}

func (r *RedisStorage) DeleteProgress(ctx context.Context, hash string) error {
	return r.Delete(ctx, ProgressKey(hash))
}
