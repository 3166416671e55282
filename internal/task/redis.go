package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores task records in Redis so status survives process
// restarts and is visible across replicas.
type RedisRegistry struct {
	client *redis.Client
	opts   Options
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisRegistry creates a Redis-backed registry and verifies the
// connection.
func NewRedisRegistry(cfg RedisConfig, opts Options) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	opts.applyDefaults()
	return &RedisRegistry{client: client, opts: opts}, nil
}

func taskKey(id string) string   { return "task:" + id }
func cancelKey(id string) string { return "cancel:" + id }

// Put stores or replaces the task record.
func (r *RedisRegistry) Put(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := r.client.Set(ctx, taskKey(t.ID), data, r.opts.TaskTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the task record, or ErrTaskNotFound.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*Task, error) {
	data, err := r.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

// Update applies fn to the stored record and persists the result.
func (r *RedisRegistry) Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := r.Put(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RequestCancel raises the cancellation flag for the task.
func (r *RedisRegistry) RequestCancel(ctx context.Context, id string) error {
	if err := r.client.Set(ctx, cancelKey(id), "1", r.opts.CancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("redis set cancel flag: %w", err)
	}
	return nil
}

// CancelRequested reports whether the cancellation flag is raised.
func (r *RedisRegistry) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
