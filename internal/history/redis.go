package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKey = "ton-confirmer:history"

	maxWatchRetries = 5
)

// Redis keeps the history in a capped list, newest at index 0.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, Capacity-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, r.key).Err()
}

func (r *Redis) FindByHash(ctx context.Context, hash string) (Record, error) {
	records, err := r.List(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if sameHash(rec.Hash, hash) {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *Redis) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return decodeRecords(raw)
}

// SetStatus rewrites the matching entry in place. The list is watched so a
// concurrent Append, which shifts indexes, forces a retry.
func (r *Redis) SetStatus(ctx context.Context, hash string, status Status) error {
	if !status.Valid() {
		return validate(Record{Hash: hash, Status: status})
	}

	update := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, r.key, 0, -1).Result()
		if err != nil {
			return err
		}
		records, err := decodeRecords(raw)
		if err != nil {
			return err
		}
		for i, rec := range records {
			if !sameHash(rec.Hash, hash) {
				continue
			}
			rec.Status = status
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, r.key, int64(i), data)
				return nil
			})
			return err
		}
		return ErrNotFound
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, update, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to set status: %w", err)
		}
		return err
	}
	return fmt.Errorf("failed to set status: %w", redis.TxFailedErr)
}

func decodeRecords(raw []string) ([]Record, error) {
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode history record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
